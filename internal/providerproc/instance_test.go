package providerproc_test

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
)

// waitingScript returns the path of a temporary executable that reads
// and discards its stdin (consuming the host descriptor line) and
// then blocks until killed, standing in for a real provider binary
// that prints "ready" and waits (spec.md §8 scenario S1).
func waitingScript(t *testing.T) string {
	t.Helper()
	return writeScript(t, "#!/bin/sh\ncat >/dev/null\necho ready\nsleep 60\n")
}

// crashingScript returns the path of a temporary executable that
// consumes its stdin and exits non-zero immediately, standing in for
// scenario S3.
func crashingScript(t *testing.T) string {
	t.Helper()
	return writeScript(t, "#!/bin/sh\ncat >/dev/null\nexit 3\n")
}

func writeScript(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provider.sh")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o755))
	return path
}

// fakeLattice is an in-memory lattice.Client recording every publish
// and answering every request according to a configurable policy.
type fakeLattice struct {
	mu         sync.Mutex
	published  []publishedEvent
	healthy    bool
	failAlways bool
}

type publishedEvent struct {
	subject string
	body    []byte
}

func (f *fakeLattice) Publish(ctx context.Context, subject string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{subject: subject, body: body})
	return nil
}

func (f *fakeLattice) Request(ctx context.Context, subject string, body []byte, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways {
		return nil, context.DeadlineExceeded
	}
	if !f.healthy {
		return nil, context.DeadlineExceeded
	}
	return []byte("ok"), nil
}

func (f *fakeLattice) eventsOfKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.published {
		if containsType(e.body, kind) {
			count++
		}
	}
	return count
}

func containsType(body []byte, kind string) bool {
	return indexOf(string(body), `"type":"com.wasmcloud.lattice.`+kind+`"`) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

type testHost struct{}

func (testHost) HostKey() string       { return "Htest" }
func (testHost) LatticePrefix() string { return "default" }

func newTestDeps(client *fakeLattice) providerproc.Deps {
	return providerproc.Deps{
		Tables:           registry.NewTables(),
		Lattice:          client,
		Encoder:          lattice.NewEncoder(testHost{}),
		Logger:           logr.Discard(),
		LatticePrefix:    "default",
		RPCTimeout:       50 * time.Millisecond,
		HealthFirstDelay: 20 * time.Millisecond,
		HealthInterval:   20 * time.Millisecond,
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

// TestNormalLifecycle exercises spec.md scenario S1: start, health
// probe passes, halt produces exactly one provider_stopped with
// reason "normal".
func TestNormalLifecycle(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)

	require.True(t, deps.Tables.Handles.Has(id))
	assert.Equal(t, 1, client.eventsOfKind(lattice.KindProviderStarted))

	time.Sleep(60 * time.Millisecond)
	assert.GreaterOrEqual(t, client.eventsOfKind(lattice.KindHealthCheckPassed), 1)

	inst.Halt(context.Background())
	<-inst.Done()

	assert.Equal(t, 1, client.eventsOfKind(lattice.KindProviderStopped))
	assert.False(t, deps.Tables.Handles.Has(id))
}

// TestDuplicateStart exercises scenario S2: a second start with the
// same identity fails with AlreadyRegistered and emits no second
// provider_started.
func TestDuplicateStart(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)
	defer func() {
		inst.Halt(context.Background())
		<-inst.Done()
	}()

	_, err = providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	assert.ErrorIs(t, err, registry.ErrAlreadyRegistered)
	assert.Equal(t, 1, client.eventsOfKind(lattice.KindProviderStarted))
}

// TestIdempotentHalt exercises scenario S7 (property 7): two
// consecutive halts produce exactly one provider_stopped event.
func TestIdempotentHalt(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)

	inst.Halt(context.Background())
	<-inst.Done()
	inst.Halt(context.Background())

	assert.Equal(t, 1, client.eventsOfKind(lattice.KindProviderStopped))
}

// TestChildCrash exercises scenario S3: the child exits non-zero and
// the instance reports exactly one provider_stopped with a non-normal
// reason.
func TestChildCrash(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: crashingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)

	select {
	case <-inst.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("instance did not terminate after child exit")
	}

	assert.Equal(t, 1, client.eventsOfKind(lattice.KindProviderStopped))
	assert.True(t, inst.Dead())
}

// TestHealthFlap exercises scenario S4: the healthy flag only emits
// events on edges, never on repeated identical outcomes.
func TestHealthFlap(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
	})
	require.NoError(t, err)
	defer func() {
		inst.Halt(context.Background())
		<-inst.Done()
	}()

	time.Sleep(60 * time.Millisecond)
	passed := client.eventsOfKind(lattice.KindHealthCheckPassed)
	assert.Equal(t, 1, passed, "only the first healthy transition should emit an event")

	client.mu.Lock()
	client.healthy = false
	client.mu.Unlock()
	time.Sleep(60 * time.Millisecond)

	failed := client.eventsOfKind(lattice.KindHealthCheckFailed)
	assert.Equal(t, 1, failed, "only the first unhealthy transition should emit an event")
}

// TestDeadInstanceAccessorsReturnSentinels covers the Public contract
// accessors' behavior once an instance has terminated.
func TestDeadInstanceAccessorsReturnSentinels(t *testing.T) {
	client := &fakeLattice{healthy: true}
	deps := newTestDeps(client)
	id := identity.New("Vxxx", "default")

	inst, err := providerproc.Start(context.Background(), deps, id, testBuilder(), providerproc.StartParams{
		ExecutablePath: waitingScript(t),
		ContractID:     "wasmcloud:httpserver",
		LinkName:       "default",
		Annotations:    map[string]string{"a": "b"},
	})
	require.NoError(t, err)

	inst.Halt(context.Background())
	<-inst.Done()

	assert.Equal(t, "n/a", inst.InstanceID())
	assert.Equal(t, "n/a", inst.Path())
	assert.Empty(t, inst.Annotations())
	assert.Empty(t, inst.OCIRef())
}
