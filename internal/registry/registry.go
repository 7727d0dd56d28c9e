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

// Package registry holds the process-wide Registration Tables: the
// Provider Handle Registry, the Provider Triple Table, the Config
// Table, and the supplemental Claims and Refmaps stores (spec.md
// §4.2). All tables are safe for concurrent readers; writes are
// serialized per identity by the owning Provider Instance.
package registry

import (
	"errors"
	"sync"

	"github.com/lattice-io/hostrt/internal/identity"
)

// ErrAlreadyRegistered is returned by Register when the identity is
// already present in the Handle Registry (spec.md §4.2).
var ErrAlreadyRegistered = errors.New("registry: identity already registered")

// Handle is the live provider handle stored alongside a contract id in
// the Handle Registry. It is intentionally opaque to this package:
// providerproc.Start stores the owning *providerproc.Instance here via
// SetHandle once the instance is constructed.
type Handle any

// handleEntry is the value stored per identity in the Handle Registry.
type handleEntry struct {
	contractID string
	handle     Handle
}

// HandleRegistry maps Provider Identity to its live handle and
// contract id. One entry exists iff the corresponding Provider
// Instance is registered (spec.md invariant 1).
type HandleRegistry struct {
	mu      sync.RWMutex
	entries map[identity.Identity]handleEntry
}

// NewHandleRegistry returns an empty Handle Registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{entries: make(map[identity.Identity]handleEntry)}
}

// Register adds identity to the registry, failing with
// ErrAlreadyRegistered if it is already present.
func (r *HandleRegistry) Register(id identity.Identity, contractID string, handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return ErrAlreadyRegistered
	}
	r.entries[id] = handleEntry{contractID: contractID, handle: handle}
	return nil
}

// SetHandle updates the live handle stored for an already-registered
// identity, leaving its contract id unchanged. Used once a Provider
// Instance has finished constructing itself after the initial
// Register call reserved the identity. A no-op if identity is not
// registered.
func (r *HandleRegistry) SetHandle(id identity.Identity, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return
	}
	e.handle = handle
	r.entries[id] = e
}

// Remove deletes identity from the registry. Removal is idempotent:
// removing an identity that is not present is a no-op.
func (r *HandleRegistry) Remove(id identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Lookup returns the live handle and contract id for identity, if
// registered.
func (r *HandleRegistry) Lookup(id identity.Identity) (handle Handle, contractID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return nil, "", false
	}
	return e.handle, e.contractID, true
}

// Has reports whether identity currently has a registration.
func (r *HandleRegistry) Has(id identity.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// List returns a snapshot of all currently registered identities.
func (r *HandleRegistry) List() []identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]identity.Identity, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered identities.
func (r *HandleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// triple is the key of the Provider Triple Table: identity plus the
// contract it was started with.
type triple struct {
	id         identity.Identity
	contractID string
}

// TripleTable records (public_key, link_name, contract_id) presence
// only, for external observability (spec.md §4.2).
type TripleTable struct {
	mu      sync.RWMutex
	present map[triple]struct{}
}

// NewTripleTable returns an empty Triple Table.
func NewTripleTable() *TripleTable {
	return &TripleTable{present: make(map[triple]struct{})}
}

// Insert records the presence of the (identity, contractID) triple.
func (t *TripleTable) Insert(id identity.Identity, contractID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.present[triple{id: id, contractID: contractID}] = struct{}{}
}

// Remove deletes the triple row. Idempotent.
func (t *TripleTable) Remove(id identity.Identity, contractID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.present, triple{id: id, contractID: contractID})
}

// Has reports whether the triple is present.
func (t *TripleTable) Has(id identity.Identity, contractID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.present[triple{id: id, contractID: contractID}]
	return ok
}

// ConfigTable holds an immutable snapshot of host startup options,
// set once at host init (spec.md §4.2's ":config" row).
type ConfigTable struct {
	mu       sync.RWMutex
	snapshot any
	set      bool
}

// NewConfigTable returns an empty Config Table.
func NewConfigTable() *ConfigTable {
	return &ConfigTable{}
}

// Set stores the host startup option snapshot. Intended to be called
// exactly once, at host init.
func (c *ConfigTable) Set(snapshot any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
	c.set = true
}

// Get returns the stored snapshot, if any.
func (c *ConfigTable) Get() (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.set
}

// ClaimsStore holds signed Claims metadata persisted by a Provider
// Instance at start (spec.md §4.4 step 7).
type ClaimsStore struct {
	mu     sync.RWMutex
	claims map[identity.Identity]identity.Claims
}

// NewClaimsStore returns an empty Claims store.
func NewClaimsStore() *ClaimsStore {
	return &ClaimsStore{claims: make(map[identity.Identity]identity.Claims)}
}

// Put stores claims for identity, overwriting any prior entry.
func (c *ClaimsStore) Put(id identity.Identity, claims identity.Claims) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims[id] = claims
}

// Get returns the claims stored for identity, if any.
func (c *ClaimsStore) Get(id identity.Identity) (identity.Claims, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claims, ok := c.claims[id]
	return claims, ok
}

// Remove deletes the claims stored for identity. Idempotent.
func (c *ClaimsStore) Remove(id identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, id)
}

// RefmapsStore maps an OCI/bindle image reference to the public key
// of the provider started from it (spec.md §4.4 step 9).
type RefmapsStore struct {
	mu      sync.RWMutex
	byImage map[string]string
}

// NewRefmapsStore returns an empty Refmaps store.
func NewRefmapsStore() *RefmapsStore {
	return &RefmapsStore{byImage: make(map[string]string)}
}

// Put records imageRef as resolving to publicKey. A no-op if imageRef
// is empty.
func (r *RefmapsStore) Put(imageRef, publicKey string) {
	if imageRef == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byImage[imageRef] = publicKey
}

// Get returns the public key recorded for imageRef, if any.
func (r *RefmapsStore) Get(imageRef string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	publicKey, ok := r.byImage[imageRef]
	return publicKey, ok
}

// Remove deletes the mapping for imageRef. Idempotent.
func (r *RefmapsStore) Remove(imageRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byImage, imageRef)
}

// Tables bundles the full set of Registration Tables as a single
// process-wide singleton, constructed by the Host Supervisor at init
// and torn down at host shutdown (spec.md §9's "Global state" note).
type Tables struct {
	Handles *HandleRegistry
	Triples *TripleTable
	Config  *ConfigTable
	Claims  *ClaimsStore
	Refmaps *RefmapsStore
}

// NewTables constructs a fresh, empty set of Registration Tables.
func NewTables() *Tables {
	return &Tables{
		Handles: NewHandleRegistry(),
		Triples: NewTripleTable(),
		Config:  NewConfigTable(),
		Claims:  NewClaimsStore(),
		Refmaps: NewRefmapsStore(),
	}
}
