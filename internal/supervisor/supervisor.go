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

// Package supervisor implements the Provider Supervisor: a
// factory/registry for Provider Instances that enforces identity
// uniqueness and routes start/stop/terminate-all (spec.md §4.5).
package supervisor

import (
	"context"
	"sync"

	"github.com/lattice-io/hostrt/internal/hostinfo"
	"github.com/lattice-io/hostrt/internal/identity"
	"github.com/lattice-io/hostrt/internal/obs/metrics"
	"github.com/lattice-io/hostrt/internal/providerproc"
	"github.com/lattice-io/hostrt/internal/registry"
)

// Supervisor holds the set of live Provider Instances. Restart policy
// is transient: a crashed instance is removed, never respawned
// automatically (spec.md §4.5). Recovery is a new, explicit
// StartProvider call.
type Supervisor struct {
	deps   providerproc.Deps
	tables *registry.Tables

	mu        sync.Mutex
	instances map[identity.Identity]*providerproc.Instance
}

// New returns a Supervisor wired to the given Provider Instance
// dependencies and Registration Tables.
func New(deps providerproc.Deps, tables *registry.Tables) *Supervisor {
	return &Supervisor{
		deps:      deps,
		tables:    tables,
		instances: make(map[identity.Identity]*providerproc.Instance),
	}
}

// StartProvider starts a new Provider Instance for id, failing with
// registry.ErrAlreadyRegistered if the identity already has a live
// instance.
func (s *Supervisor) StartProvider(ctx context.Context, id identity.Identity, builder *hostinfo.Builder, params providerproc.StartParams) (*providerproc.Instance, error) {
	s.mu.Lock()
	if s.tables.Handles.Has(id) {
		s.mu.Unlock()
		return nil, registry.ErrAlreadyRegistered
	}
	s.mu.Unlock()

	inst, err := providerproc.Start(ctx, s.deps, id, builder, params)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.instances[id] = inst
	s.mu.Unlock()

	metrics.SetProvidersRunning(s.tables.Handles.Count())

	go s.reapOnExit(id, inst)

	return inst, nil
}

// reapOnExit removes the supervisor's bookkeeping entry once an
// instance terminates on its own (child exit or a halt issued
// elsewhere), keeping the supervisor's view of "live" instances in
// sync with the Handle Registry without re-registering it.
func (s *Supervisor) reapOnExit(id identity.Identity, inst *providerproc.Instance) {
	<-inst.Done()

	s.mu.Lock()
	if current, ok := s.instances[id]; ok && current == inst {
		delete(s.instances, id)
	}
	s.mu.Unlock()

	metrics.SetProvidersRunning(s.tables.Handles.Count())
}

// Stop halts the Provider Instance for id, if one is live. Idempotent:
// stopping an identity with no live instance is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id identity.Identity) {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	inst.Halt(ctx)
}

// TerminateAll halts every live Provider Instance. It fans out Halt to
// every instance concurrently and does not wait for child-OS reaping
// beyond SIGKILL issuance completing (spec.md §5).
func (s *Supervisor) TerminateAll(ctx context.Context) {
	s.mu.Lock()
	insts := make([]*providerproc.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range insts {
		wg.Add(1)
		go func(inst *providerproc.Instance) {
			defer wg.Done()
			inst.Halt(ctx)
		}(inst)
	}
	wg.Wait()

	s.mu.Lock()
	for _, inst := range insts {
		id := inst.IdentityTuple()
		if current, ok := s.instances[id]; ok && current == inst {
			delete(s.instances, id)
		}
	}
	s.mu.Unlock()
}

// List returns the identities of every currently live Provider
// Instance.
func (s *Supervisor) List() []identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]identity.Identity, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the live Provider Instance for id, if any.
func (s *Supervisor) Get(id identity.Identity) (*providerproc.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok
}
