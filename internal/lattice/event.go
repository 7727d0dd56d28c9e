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

// Package lattice wraps payloads in CloudEvents-1.0 envelopes for
// publication on the lattice bus, and declares the narrow
// Client interface this subsystem treats as an external
// collaborator (spec.md §1, §6).
package lattice

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type kinds published by the provider lifecycle subsystem and
// the host supervisor, per spec.md §6.
const (
	KindHostStarted       = "host_started"
	KindHostStopped       = "host_stopped"
	KindProviderStarted   = "provider_started"
	KindProviderStopped   = "provider_stopped"
	KindHealthCheckPassed = "health_check_passed"
	KindHealthCheckFailed = "health_check_failed"
)

// typePrefix is prepended to every event kind to form the CloudEvents
// "type" field.
const typePrefix = "com.wasmcloud.lattice."

// correlationExtension is the CloudEvents extension attribute name
// used to carry an optional log-correlation identifier. This is an
// addition beyond spec.md §4.1's envelope fields: it never changes
// the shape of any payload named in spec.md §6, and an empty
// CorrelationID simply omits the attribute.
const correlationExtension = "correlationid"

// HostInfoSource is the narrow accessor the Encoder consults at
// publish time, so Provider Instances need not cache host_key or
// lattice_prefix beyond their own start-time snapshot (spec.md §4.1).
type HostInfoSource interface {
	HostKey() string
	LatticePrefix() string
}

// Encoder builds CloudEvents-1.0 envelopes for lattice publication.
type Encoder struct {
	host HostInfoSource
}

// NewEncoder returns an Encoder that pulls host_key from host at
// encode time. The encoder does not read host's lattice prefix: the
// envelope carries no prefix, and callers pick the publication topic
// themselves.
func NewEncoder(host HostInfoSource) *Encoder {
	return &Encoder{host: host}
}

// Encode wraps payload in a CloudEvents-1.0 envelope of the given
// kind and returns its canonical JSON serialization.
func (e *Encoder) Encode(kind string, payload any) ([]byte, error) {
	return e.EncodeCorrelated(kind, payload, "")
}

// EncodeCorrelated is Encode with an optional correlation identifier
// attached as a CloudEvents extension attribute.
func (e *Encoder) EncodeCorrelated(kind string, payload any, correlationID string) ([]byte, error) {
	ev := cloudevents.NewEvent()
	ev.SetSpecVersion(cloudevents.VersionV1)
	ev.SetID(uuid.NewString())
	ev.SetSource(e.host.HostKey())
	ev.SetType(typePrefix + kind)
	ev.SetTime(time.Now().UTC())
	if correlationID != "" {
		ev.SetExtension(correlationExtension, correlationID)
	}

	if err := ev.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return nil, fmt.Errorf("lattice: encode %s event: %w", kind, err)
	}

	b, err := ev.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("lattice: marshal %s event: %w", kind, err)
	}
	return b, nil
}

// Topic returns the lattice subject events of any kind are published
// on for the given prefix: wasmbus.evt.<prefix>.
func Topic(latticePrefix string) string {
	return fmt.Sprintf("wasmbus.evt.%s", latticePrefix)
}

// HealthSubject returns the lattice RPC subject a provider's health
// probe request is published on.
func HealthSubject(latticePrefix, publicKey, linkName string) string {
	return fmt.Sprintf("wasmbus.rpc.%s.%s.%s.health", latticePrefix, publicKey, linkName)
}

// ConfigSubject returns the lattice subject the optional supplemental
// configuration fetch is requested on.
func ConfigSubject(latticePrefix string) string {
	return fmt.Sprintf("wasmbus.cfg.%s", latticePrefix)
}

// Client is the out-of-scope lattice bus client (spec.md §1, §6):
// pub/sub and request/reply over a subject namespace. No concrete
// NATS-backed implementation lives in this module; it is an external
// collaborator named here only so the rest of the subsystem can
// depend on an interface instead of a library.
type Client interface {
	Publish(ctx context.Context, subject string, body []byte) error
	Request(ctx context.Context, subject string, body []byte, timeout time.Duration) ([]byte, error)
}

// Publisher publishes a pre-built event to the standard event topic
// for latticePrefix, recording publish failures through record rather
// than surfacing them — per spec.md §7, PublishFailed is logged, never
// fatal.
func Publisher(ctx context.Context, client Client, latticePrefix string, body []byte, record func(error)) {
	if err := client.Publish(ctx, Topic(latticePrefix), body); err != nil && record != nil {
		record(err)
	}
}
