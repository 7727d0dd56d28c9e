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

// Package hostinfo builds the JSON descriptor handed to a starting
// provider on its standard input (spec.md §4.3).
package hostinfo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// LinkDefinition is an existing link definition matching
// (provider_key, link_name) at start time.
type LinkDefinition struct {
	ActorID    string            `json:"actor_id"`
	ProviderID string            `json:"provider_id"`
	LinkName   string            `json:"link_name"`
	ContractID string            `json:"contract_id"`
	Values     map[string]string `json:"values"`
}

// Descriptor is the host descriptor written to a provider's stdin at
// spawn, field-for-field per spec.md §4.3.
type Descriptor struct {
	HostID             string            `json:"host_id"`
	LatticeRPCPrefix   string            `json:"lattice_rpc_prefix"`
	LinkName           string            `json:"link_name"`
	ProviderKey        string            `json:"provider_key"`
	InstanceID         string            `json:"instance_id"`
	LatticeRPCURL      string            `json:"lattice_rpc_url"`
	LatticeRPCUserJWT  string            `json:"lattice_rpc_user_jwt"`
	LatticeRPCUserSeed string            `json:"lattice_rpc_user_seed"`
	LatticeRPCTLS      bool              `json:"lattice_rpc_tls"`
	DefaultRPCTimeoutMS int              `json:"default_rpc_timeout_ms"`
	ClusterIssuers     []string          `json:"cluster_issuers"`
	InvocationSeed     string            `json:"invocation_seed"`
	JSDomain           string            `json:"js_domain,omitempty"`
	EnableStructuredLogging bool         `json:"enable_structured_logging"`
	EnvValues          map[string]string `json:"env_values"`
	ConfigJSON         string            `json:"config_json"`
	LinkDefinitions    []LinkDefinition  `json:"link_definitions"`
}

// Builder assembles Descriptors from the host's current configuration.
type Builder struct {
	HostID             string
	LatticeRPCPrefix   string
	LatticeRPCHost     string
	LatticeRPCPort     int
	LatticeRPCUserJWT  string
	LatticeRPCUserSeed string
	LatticeRPCTLS      bool
	DefaultRPCTimeoutMS int
	ClusterIssuers     []string
	InvocationSeed     string
	JSDomain           string
	EnableStructuredLogging bool
}

// Build assembles the Descriptor for a starting provider. linkDefs
// should already be filtered to the (providerKey, linkName) pair by
// the caller; Build never mutates or re-filters it, but always
// returns a non-nil slice in the Descriptor so the child sees a JSON
// array rather than null.
func (b *Builder) Build(providerKey, linkName, instanceID, configJSON string, linkDefs []LinkDefinition) *Descriptor {
	if linkDefs == nil {
		linkDefs = []LinkDefinition{}
	}
	issuers := b.ClusterIssuers
	if issuers == nil {
		issuers = []string{}
	}

	return &Descriptor{
		HostID:                  b.HostID,
		LatticeRPCPrefix:        b.LatticeRPCPrefix,
		LinkName:                linkName,
		ProviderKey:             providerKey,
		InstanceID:              instanceID,
		LatticeRPCURL:           fmt.Sprintf("%s:%d", b.LatticeRPCHost, b.LatticeRPCPort),
		LatticeRPCUserJWT:       b.LatticeRPCUserJWT,
		LatticeRPCUserSeed:      b.LatticeRPCUserSeed,
		LatticeRPCTLS:           b.LatticeRPCTLS,
		DefaultRPCTimeoutMS:     b.DefaultRPCTimeoutMS,
		ClusterIssuers:          issuers,
		InvocationSeed:          b.InvocationSeed,
		JSDomain:                b.JSDomain,
		EnableStructuredLogging: b.EnableStructuredLogging,
		EnvValues:               map[string]string{},
		ConfigJSON:              configJSON,
		LinkDefinitions:         linkDefs,
	}
}

// Default returns a fully populated Descriptor with zero-value
// identity fields, used when a caller requests the default host
// descriptor and configuration lookup otherwise fails. Per spec.md
// §9's second open question, a branch of the original source returns
// a short tuple in this path; that is treated as a latent bug and is
// not reproduced here — Default always returns every field of the
// full Descriptor.
func (b *Builder) Default() *Descriptor {
	return b.Build("", "", "", "", nil)
}

// Encode serializes d as JSON, then as standard padded Base64, for
// writing to a child process's stdin followed by a single newline
// (spec.md §4.3, §6).
func Encode(d *Descriptor) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("hostinfo: marshal descriptor: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payload)

	var buf bytes.Buffer
	buf.WriteString(encoded)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode reverses Encode, for tests verifying the descriptor
// round-trip property (spec.md §8 property 4). line may or may not
// include the trailing newline.
func Decode(line []byte) (*Descriptor, error) {
	trimmed := bytes.TrimRight(line, "\n")

	payload, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("hostinfo: decode base64: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("hostinfo: decode descriptor json: %w", err)
	}
	return &d, nil
}
