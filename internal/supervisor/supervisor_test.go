package supervisor_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-io/hostrt/internal/hostinfo"
	"github.com/lattice-io/hostrt/internal/identity"
	"github.com/lattice-io/hostrt/internal/lattice"
	"github.com/lattice-io/hostrt/internal/providerproc"
	"github.com/lattice-io/hostrt/internal/registry"
	"github.com/lattice-io/hostrt/internal/supervisor"
)

type fakeLattice struct {
	mu        sync.Mutex
	published int
}

func (f *fakeLattice) Publish(ctx context.Context, subject string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return nil
}

func (f *fakeLattice) Request(ctx context.Context, subject string, body []byte, timeout time.Duration) ([]byte, error) {
	return []byte("ok"), nil
}

type testHost struct{}

func (testHost) HostKey() string       { return "Htest" }
func (testHost) LatticePrefix() string { return "default" }

func waitingScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provider.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\nsleep 60\n"), 0o755))
	return path
}

func newDeps(client *fakeLattice) providerproc.Deps {
	return providerproc.Deps{
		Tables:           registry.NewTables(),
		Lattice:          client,
		Encoder:          lattice.NewEncoder(testHost{}),
		Logger:           logr.Discard(),
		LatticePrefix:    "default",
		RPCTimeout:       50 * time.Millisecond,
		HealthFirstDelay: time.Hour,
		HealthInterval:   time.Hour,
	}
}

func testBuilder() *hostinfo.Builder {
	return &hostinfo.Builder{
		HostID:           "Htest",
		LatticeRPCPrefix: "default",
		LatticeRPCHost:   "127.0.0.1",
		LatticeRPCPort:   4222,
	}
}

// TestStartProviderEnforcesUniqueness exercises scenario S2 at the
// supervisor layer: a duplicate identity is rejected and the original
// instance keeps running.
func TestStartProviderEnforcesUniqueness(t *testing.T) {
	client := &fakeLattice{}
	deps := newDeps(client)
	sup := supervisor.New(deps, deps.Tables)
	id := identity.New("Vxxx", "default")

	inst, err := sup.StartProvider(context.Background(), id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)
	defer func() {
		inst.Halt(context.Background())
		<-inst.Done()
	}()

	_, err = sup.StartProvider(context.Background(), id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)

	got, ok := sup.Get(id)
	require.True(t, ok)
	assert.Same(t, inst, got)
}

// TestStopIsIdempotentOnUnknownIdentity exercises Stop's no-op
// contract for an identity with no live instance.
func TestStopIsIdempotentOnUnknownIdentity(t *testing.T) {
	client := &fakeLattice{}
	deps := newDeps(client)
	sup := supervisor.New(deps, deps.Tables)

	sup.Stop(context.Background(), identity.New("Vabsent", "default"))
	assert.Empty(t, sup.List())
}

// TestReapOnExitRemovesBookkeepingWithoutRespawn exercises the
// transient restart policy: once a Provider Instance terminates, the
// Supervisor forgets it rather than relaunching it.
func TestReapOnExitRemovesBookkeepingWithoutRespawn(t *testing.T) {
	client := &fakeLattice{}
	deps := newDeps(client)
	sup := supervisor.New(deps, deps.Tables)
	id := identity.New("Vxxx", "default")

	inst, err := sup.StartProvider(context.Background(), id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)

	inst.Halt(context.Background())
	<-inst.Done()

	require.Eventually(t, func() bool {
		_, ok := sup.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, sup.List())
	assert.False(t, deps.Tables.Handles.Has(id))
}

// TestTerminateAllHaltsEveryInstance exercises TerminateAll fanning out
// Halt to every live Provider Instance concurrently.
func TestTerminateAllHaltsEveryInstance(t *testing.T) {
	client := &fakeLattice{}
	deps := newDeps(client)
	sup := supervisor.New(deps, deps.Tables)

	var insts []*providerproc.Instance
	ids := []identity.Identity{
		identity.New("Va", "default"),
		identity.New("Vb", "default"),
		identity.New("Vc", "default"),
	}
	for _, id := range ids {
		inst, err := sup.StartProvider(context.Background(), id, testBuilder(), providerproc.StartParams{
			ExecutablePath: waitingScript(t),
			ContractID:     "wasmcloud:httpserver",
			LinkName:       "default",
		})
		require.NoError(t, err)
		insts = append(insts, inst)
	}

	sup.TerminateAll(context.Background())

	for _, inst := range insts {
		select {
		case <-inst.Done():
		case <-time.After(time.Second):
			t.Fatal("instance did not terminate")
		}
	}
	assert.Empty(t, sup.List())
}
