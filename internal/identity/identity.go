/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package identity defines the Provider Identity tuple and the signed
// Claims metadata associated with a provider, per spec.md §3.
package identity

import (
	"fmt"
	"strings"
)

// DefaultLinkName is used when a provider is started without an
// explicit link name.
const DefaultLinkName = "default"

// Identity is the (public_key, link_name) pair that uniquely
// identifies a provider within a host. Two providers with equal
// Identity MUST NOT coexist in the Handle Registry.
type Identity struct {
	PublicKey string
	LinkName  string
}

// New returns an Identity, defaulting an empty link name to "default".
func New(publicKey, linkName string) Identity {
	if linkName == "" {
		linkName = DefaultLinkName
	}
	return Identity{PublicKey: publicKey, LinkName: linkName}
}

// String renders the identity for logging and map keys.
func (i Identity) String() string {
	return fmt.Sprintf("%s/%s", i.PublicKey, i.LinkName)
}

// Claims holds signed metadata associated with a provider.
type Claims struct {
	PublicKey      string   `json:"public_key"`
	Issuer         string   `json:"issuer"`
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Tags           []string `json:"tags"`
	NotBeforeHuman string   `json:"not_before_human"`
	ExpiresHuman   string   `json:"expires_human"`
}

// truthyTokens mirrors spec.md §6's recognized config_service_enabled
// tokens verbatim, including the informal aliases preserved from the
// original source.
var truthyTokens = map[string]bool{
	"true":       true,
	"yes":        true,
	"y":          true,
	"enabled":    true,
	"you betcha": true,
	"yuppers":    true,
	"totes":      true,
}

// ParseTruthy implements the config_service_enabled truthiness rule
// from spec.md §6 and property 6 of §8: case-insensitive recognition
// of TRUE/YES/Y/ENABLED plus the informal aliases "YOU BETCHA",
// "YUPPERS", and "TOTES". Everything else, including the empty
// string, is false.
func ParseTruthy(value string) bool {
	return truthyTokens[strings.ToLower(strings.TrimSpace(value))]
}
