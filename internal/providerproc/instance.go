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

// Package providerproc implements the Provider Instance: a per-provider
// supervised worker that owns a child process, monitors it, runs
// health probes, emits lifecycle events, serves identity queries, and
// performs cleanup on exit or halt (spec.md §4.4).
package providerproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lattice-io/hostrt/internal/hostinfo"
	"github.com/lattice-io/hostrt/internal/identity"
	"github.com/lattice-io/hostrt/internal/lattice"
	"github.com/lattice-io/hostrt/internal/obs/metrics"
	"github.com/lattice-io/hostrt/internal/obs/tracing"
	"github.com/lattice-io/hostrt/internal/registry"
	"github.com/lattice-io/hostrt/internal/util/closer"
)

// allowedEnv is the filtered environment allowlist forwarded to every
// provider child process (spec.md §6). Empty values are dropped.
var allowedEnv = []string{"OTEL_TRACES_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT"}

// Sentinel values returned by accessors once an instance is dead.
const (
	sentinelNA = "n/a"
)

// ErrSpawnFailed wraps an OS-level failure to exec the provider binary
// or set up its pipes (spec.md §7).
var ErrSpawnFailed = errors.New("providerproc: spawn failed")

// StartParams carries everything needed to spawn a provider beyond its
// identity, mirroring the Provider Instance's `start` operation input
// (spec.md §4.4).
type StartParams struct {
	ExecutablePath  string
	Claims          identity.Claims
	LinkName        string
	ContractID      string
	ImageRef        string
	ConfigJSON      string
	Annotations     map[string]string
	LinkDefinitions []hostinfo.LinkDefinition
}

// Deps bundles an Instance's collaborators: the shared Registration
// Tables, the lattice client and envelope encoder, logging, and the
// configured RPC timeout / probe cadence.
type Deps struct {
	Tables        *registry.Tables
	Lattice       lattice.Client
	Encoder       *lattice.Encoder
	Logger        logr.Logger
	LatticePrefix string
	RPCTimeout    time.Duration

	// HealthFirstDelay and HealthInterval default to 5s / 30s per
	// spec.md §4.4 step 10 when left zero.
	HealthFirstDelay time.Duration
	HealthInterval   time.Duration
}

func (d Deps) firstDelay() time.Duration {
	if d.HealthFirstDelay > 0 {
		return d.HealthFirstDelay
	}
	return 5 * time.Second
}

func (d Deps) interval() time.Duration {
	if d.HealthInterval > 0 {
		return d.HealthInterval
	}
	return 30 * time.Second
}

// Instance is a Provider Instance: a supervised worker with a
// serialized command inbox. Fields set at construction and never
// mutated afterward are safe to read directly without synchronization
// (they are visible to readers via the happens-before edge of the
// goroutines' own creation). Mutable state lives behind the inbox or
// an atomic flag.
type Instance struct {
	id             identity.Identity
	contractID     string
	instanceID     string
	executablePath string
	imageRef       string
	annotations    map[string]string
	latticePrefix  string

	deps Deps
	cmd  *exec.Cmd

	inbox chan instanceCmd
	done  chan struct{}

	dead atomic.Bool
}

// instanceCmd is the sum type of messages delivered to an Instance's
// inbox, preserving total order across queries, health probe ticks,
// child-exit notification, and halt (spec.md §5).
type instanceCmd interface{ isInstanceCmd() }

type cmdHealthTick struct{}

func (cmdHealthTick) isInstanceCmd() {}

type cmdChildExited struct{ reason string }

func (cmdChildExited) isInstanceCmd() {}

type cmdHalt struct{ reply chan struct{} }

func (cmdHalt) isInstanceCmd() {}

type cmdLogLine struct {
	stream string
	line   string
}

func (cmdLogLine) isInstanceCmd() {}

// Start executes the Provider Instance start protocol (spec.md §4.4
// steps 1-10): it mints an instance id, registers identity, spawns the
// child with a filtered environment, streams the host descriptor to
// its stdin, persists claims, publishes provider_started, records the
// image ref in Refmaps, and schedules health probes. Errors leave no
// registry residue.
func Start(ctx context.Context, deps Deps, id identity.Identity, builder *hostinfo.Builder, params StartParams) (*Instance, error) {
	ctx, span := tracing.StartProviderSpan(ctx, tracing.SpanProviderStart, id.PublicKey, id.LinkName, params.ContractID)
	defer span.End()

	timer := metrics.NewTimer()

	instanceID := uuid.NewString()

	if err := deps.Tables.Handles.Register(id, params.ContractID, nil); err != nil {
		metrics.RecordProviderStart(params.ContractID, metrics.OutcomeAlreadyRegistered)
		span.RecordError(err)
		return nil, err
	}
	deps.Tables.Triples.Insert(id, params.ContractID)

	descriptor := builder.Build(id.PublicKey, id.LinkName, instanceID, params.ConfigJSON, params.LinkDefinitions)
	frame, err := hostinfo.Encode(descriptor)
	if err != nil {
		deps.Tables.Triples.Remove(id, params.ContractID)
		deps.Tables.Handles.Remove(id)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	cmd := exec.CommandContext(ctx, params.ExecutablePath)
	cmd.Env = filteredEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		deps.Tables.Triples.Remove(id, params.ContractID)
		deps.Tables.Handles.Remove(id)
		metrics.RecordProviderStart(params.ContractID, metrics.OutcomeSpawnFailed)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		deps.Tables.Triples.Remove(id, params.ContractID)
		deps.Tables.Handles.Remove(id)
		metrics.RecordProviderStart(params.ContractID, metrics.OutcomeSpawnFailed)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		deps.Tables.Triples.Remove(id, params.ContractID)
		deps.Tables.Handles.Remove(id)
		metrics.RecordProviderStart(params.ContractID, metrics.OutcomeSpawnFailed)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		deps.Tables.Triples.Remove(id, params.ContractID)
		deps.Tables.Handles.Remove(id)
		metrics.RecordProviderStart(params.ContractID, metrics.OutcomeSpawnFailed)
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if _, err := stdin.Write(frame); err != nil {
		deps.Logger.Error(err, "failed to write host descriptor to provider stdin",
			"public_key", id.PublicKey, "link_name", id.LinkName)
	}
	closer.CloseQuietly(stdin, deps.Logger, "provider stdin")

	inst := &Instance{
		id:             id,
		contractID:     params.ContractID,
		instanceID:     instanceID,
		executablePath: params.ExecutablePath,
		imageRef:       params.ImageRef,
		annotations:    params.Annotations,
		latticePrefix:  deps.LatticePrefix,
		deps:           deps,
		cmd:            cmd,
		inbox:          make(chan instanceCmd, 16),
		done:           make(chan struct{}),
	}

	deps.Tables.Handles.SetHandle(id, inst)
	deps.Tables.Claims.Put(id, params.Claims)

	startedPayload := map[string]any{
		"public_key":  id.PublicKey,
		"image_ref":   params.ImageRef,
		"link_name":   id.LinkName,
		"contract_id": params.ContractID,
		"instance_id": instanceID,
		"annotations": params.Annotations,
		"claims": map[string]any{
			"issuer":           params.Claims.Issuer,
			"tags":             params.Claims.Tags,
			"name":             params.Claims.Name,
			"version":          params.Claims.Version,
			"not_before_human": params.Claims.NotBeforeHuman,
			"expires_human":    params.Claims.ExpiresHuman,
		},
	}
	inst.publish(ctx, lattice.KindProviderStarted, startedPayload)

	if params.ImageRef != "" {
		deps.Tables.Refmaps.Put(params.ImageRef, id.PublicKey)
	}

	metrics.RecordProviderStart(params.ContractID, metrics.OutcomeStarted)
	metrics.ObserveSpawnDuration(timer.Duration())

	go inst.streamLines("stdout", stdout)
	go inst.streamLines("stderr", stderr)
	go inst.waitChild()
	go inst.healthLoop(ctx)
	go inst.run(ctx)

	return inst, nil
}

// filteredEnv restricts the parent's environment to the allowlist,
// dropping empty values (spec.md §6).
func filteredEnv() []string {
	env := make([]string, 0, len(allowedEnv))
	for _, key := range allowedEnv {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// run is the Instance's serialized command loop: every mutation to
// `healthy` and every terminal transition passes through here so
// queries, probes, exit notification, and halt observe one total
// order (spec.md §5).
func (i *Instance) run(ctx context.Context) {
	healthy := false

	for cmd := range i.inbox {
		switch c := cmd.(type) {
		case cmdLogLine:
			i.deps.Logger.Info(c.line, "stream", c.stream,
				"provider_id", i.id.PublicKey, "link_name", i.id.LinkName, "contract_id", i.contractID)

		case cmdHealthTick:
			ok := i.probeOnce(ctx)
			metrics.RecordHealthCheck(probeResult(ok))
			if ok && !healthy {
				healthy = true
				metrics.RecordHealthEdge(metrics.EdgeBecameHealthy)
				i.publish(ctx, lattice.KindHealthCheckPassed, map[string]any{
					"public_key": i.id.PublicKey, "link_name": i.id.LinkName,
				})
			} else if !ok && healthy {
				healthy = false
				metrics.RecordHealthEdge(metrics.EdgeBecameUnhealthy)
				i.publish(ctx, lattice.KindHealthCheckFailed, map[string]any{
					"public_key": i.id.PublicKey, "link_name": i.id.LinkName,
				})
			}

		case cmdChildExited:
			i.terminate(ctx, c.reason)
			return

		case cmdHalt:
			_ = i.cmd.Process.Kill()
			i.terminate(ctx, "normal")
			if c.reply != nil {
				close(c.reply)
			}
			return
		}
	}
}

func probeResult(ok bool) string {
	if ok {
		return metrics.ResultPass
	}
	return metrics.ResultFail
}

// terminate performs the shared teardown for child exit and halt:
// emit exactly one provider_stopped event, deregister from every
// table, and mark the instance dead (spec.md §4.4, invariant 3).
func (i *Instance) terminate(ctx context.Context, reason string) {
	i.dead.Store(true)

	i.publish(ctx, lattice.KindProviderStopped, map[string]any{
		"public_key":  i.id.PublicKey,
		"link_name":   i.id.LinkName,
		"contract_id": i.contractID,
		"instance_id": i.instanceID,
		"reason":      reason,
	})

	metrics.RecordProviderStop(i.contractID, reason)

	i.deps.Tables.Triples.Remove(i.id, i.contractID)
	i.deps.Tables.Handles.Remove(i.id)
	i.deps.Tables.Claims.Remove(i.id)
	if i.imageRef != "" {
		i.deps.Tables.Refmaps.Remove(i.imageRef)
	}

	close(i.done)
}

// publish encodes and publishes a lifecycle event, absorbing any
// failure per spec.md §7 (PublishFailed is logged, never fatal).
func (i *Instance) publish(ctx context.Context, kind string, payload any) {
	body, err := i.deps.Encoder.Encode(kind, payload)
	if err != nil {
		i.deps.Logger.Error(err, "failed to encode lattice event", "kind", kind)
		metrics.RecordPublishFailure(kind)
		return
	}
	if err := i.deps.Lattice.Publish(ctx, lattice.Topic(i.latticePrefix), body); err != nil {
		i.deps.Logger.Error(err, "failed to publish lattice event", "kind", kind)
		metrics.RecordPublishFailure(kind)
	}
}

// streamLines relays each line of the child's stdout/stderr into the
// inbox as a log command, so log emission observes the same total
// order as every other instance event (spec.md §4.4's child log
// lines requirement).
func (i *Instance) streamLines(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case i.inbox <- cmdLogLine{stream: stream, line: scanner.Text()}:
		case <-i.done:
			return
		}
	}
}

// waitChild blocks until the child process exits and delivers the
// outcome into the inbox. After a halt the notification is never
// processed: the send is abandoned once done is closed, or the message
// sits unread in the buffered inbox after run has returned.
func (i *Instance) waitChild() {
	err := i.cmd.Wait()

	reason := "normal"
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			reason = exitErr.Error()
		} else {
			reason = err.Error()
		}
	}

	select {
	case i.inbox <- cmdChildExited{reason: reason}:
	case <-i.done:
	}
}

// healthLoop schedules the first probe at Deps.HealthFirstDelay and
// subsequent probes every Deps.HealthInterval, delivering a tick
// command into the inbox each time (spec.md §4.4 step 10).
func (i *Instance) healthLoop(ctx context.Context) {
	firstTimer := time.NewTimer(i.deps.firstDelay())
	defer firstTimer.Stop()

	select {
	case <-firstTimer.C:
	case <-i.done:
		return
	case <-ctx.Done():
		return
	}

	select {
	case i.inbox <- cmdHealthTick{}:
	case <-i.done:
		return
	}

	ticker := time.NewTicker(i.deps.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case i.inbox <- cmdHealthTick{}:
			case <-i.done:
				return
			}
		case <-i.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// healthPlaceholder is the MessagePack body published on every health
// probe request (spec.md §4.4).
type healthPlaceholder struct {
	Placeholder bool `msgpack:"placeholder"`
}

// probeOnce issues one health probe request over the lattice and
// reports whether it succeeded before the configured RPC timeout.
// A timeout is a probe failure, never a surfaced error (spec.md §7).
func (i *Instance) probeOnce(ctx context.Context) bool {
	ctx, span := tracing.StartProviderSpan(ctx, tracing.SpanHealthProbe, i.id.PublicKey, i.id.LinkName, i.contractID)
	defer span.End()

	body, err := msgpack.Marshal(healthPlaceholder{Placeholder: true})
	if err != nil {
		span.RecordError(err)
		i.deps.Logger.Error(err, "failed to encode health probe body")
		return false
	}

	subject := lattice.HealthSubject(i.latticePrefix, i.id.PublicKey, i.id.LinkName)
	timeout := i.deps.RPCTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	_, err = i.deps.Lattice.Request(ctx, subject, body, timeout)
	if err != nil {
		span.RecordError(err)
	}
	return err == nil
}

// Halt sends SIGKILL to the child process as a safety net and emits
// provider_stopped with reason "normal", even though the child had no
// chance at a clean shutdown. This is intentionally lossy and is
// preserved from the source behavior (spec.md §9); a future revision
// might add a graceful-stop RPC first. Halt is idempotent: calling it
// on an already-terminated instance is a no-op.
func (i *Instance) Halt(ctx context.Context) {
	if i.dead.Load() {
		return
	}

	ctx, span := tracing.StartProviderSpan(ctx, tracing.SpanProviderHalt, i.id.PublicKey, i.id.LinkName, i.contractID)
	defer span.End()

	reply := make(chan struct{})
	select {
	case i.inbox <- cmdHalt{reply: reply}:
	case <-i.done:
		return
	}

	select {
	case <-reply:
	case <-i.done:
	}
}

// IdentityTuple returns the instance's (public_key, link_name) pair.
func (i *Instance) IdentityTuple() identity.Identity {
	return i.id
}

// InstanceID returns the instance id, or the sentinel "n/a" once dead.
func (i *Instance) InstanceID() string {
	if i.dead.Load() {
		return sentinelNA
	}
	return i.instanceID
}

// Annotations returns the instance's annotations, or an empty map
// once dead.
func (i *Instance) Annotations() map[string]string {
	if i.dead.Load() {
		return map[string]string{}
	}
	return i.annotations
}

// OCIRef returns the instance's image reference, or an empty string
// once dead.
func (i *Instance) OCIRef() string {
	if i.dead.Load() {
		return ""
	}
	return i.imageRef
}

// Path returns the instance's executable path, or the sentinel "n/a"
// once dead.
func (i *Instance) Path() string {
	if i.dead.Load() {
		return sentinelNA
	}
	return i.executablePath
}

// Dead reports whether the instance has terminated.
func (i *Instance) Dead() bool {
	return i.dead.Load()
}

// Done returns a channel closed once the instance has fully
// terminated and published its provider_stopped event.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}
