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

// Package host implements the Host Supervisor: process-wide lifecycle,
// startup labels, graceful shutdown, purge, and shared configuration
// access (spec.md §4.6).
package host

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lattice-io/hostrt/internal/lattice"
	"github.com/lattice-io/hostrt/internal/obs/metrics"
	"github.com/lattice-io/hostrt/internal/obs/tracing"
	"github.com/lattice-io/hostrt/internal/registry"
	"github.com/lattice-io/hostrt/internal/supervisor"
)

// drainDelay is slept after host_stopped is published, to let the
// event reach the lattice before the process exits (spec.md §4.6).
const drainDelay = 300 * time.Millisecond

// hostEnvPrefix is stripped (and lowercased) from every environment
// variable that contributes a label (spec.md §4.6).
const hostEnvPrefix = "HOST_"

// Supervisor is the Host Supervisor: it owns the Registration Tables,
// the Provider Supervisor, and the host's own identity and published
// labels.
type Supervisor struct {
	hostKey       string
	latticePrefix string
	friendlyName  string
	labels        map[string]string

	tables     *registry.Tables
	providers  *supervisor.Supervisor
	lattice    lattice.Client
	encoder    *lattice.Encoder
	logger     logr.Logger

	supplementalConfig any
}

// Config carries the Host Supervisor's construction-time inputs.
type Config struct {
	HostKey       string
	LatticePrefix string
	Lattice       lattice.Client
	Logger        logr.Logger
}

// New constructs a Host Supervisor. It does not yet publish
// host_started or spawn any providers; call Start for that.
func New(cfg Config, tables *registry.Tables, providers *supervisor.Supervisor) *Supervisor {
	s := &Supervisor{
		hostKey:       cfg.HostKey,
		latticePrefix: cfg.LatticePrefix,
		tables:        tables,
		providers:     providers,
		lattice:       cfg.Lattice,
		logger:        cfg.Logger,
	}
	s.encoder = lattice.NewEncoder(s)
	s.friendlyName = friendlyName(cfg.HostKey)
	s.labels = assembleLabels(os.Environ())
	return s
}

// HostKey satisfies lattice.HostInfoSource.
func (s *Supervisor) HostKey() string { return s.hostKey }

// LatticePrefix satisfies lattice.HostInfoSource.
func (s *Supervisor) LatticePrefix() string { return s.latticePrefix }

// FriendlyName returns the host's deterministic two-word friendly
// name, derived from its host key.
func (s *Supervisor) FriendlyName() string { return s.friendlyName }

// Labels returns the host's assembled label set.
func (s *Supervisor) Labels() map[string]string { return s.labels }

// Encoder returns the host's CloudEvents encoder, for use by callers
// that need to publish events outside the provider lifecycle
// subsystem (e.g. the supplemental config fetch).
func (s *Supervisor) Encoder() *lattice.Encoder { return s.encoder }

// Start initializes the Registration Tables' Config Table snapshot
// and publishes host_started with the host's labels and friendly name
// (spec.md §4.6).
func (s *Supervisor) Start(ctx context.Context, configSnapshot any) error {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanHostStartup)
	defer span.End()

	s.tables.Config.Set(configSnapshot)

	body, err := s.encoder.Encode(lattice.KindHostStarted, map[string]any{
		"labels":        s.labels,
		"friendly_name": s.friendlyName,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	lattice.Publisher(ctx, s.lattice, s.latticePrefix, body, func(err error) {
		s.logger.Error(err, "failed to publish host_started")
		metrics.RecordPublishFailure(lattice.KindHostStarted)
	})

	metrics.SetupBuildInfo("dev", "unknown", "host")
	return nil
}

// FetchSupplementalConfig requests the optional supplemental
// configuration from the lattice, using the host's labels, encoded as
// JSON, as the request payload (spec.md §6). A failure is logged but never fatal;
// supplemental configuration may simply be absent.
func (s *Supervisor) FetchSupplementalConfig(ctx context.Context, timeout time.Duration) {
	payload, err := json.Marshal(s.labels)
	if err != nil {
		s.logger.Info("failed to encode labels for supplemental config fetch, continuing without it", "error", err.Error())
		return
	}
	body, err := s.lattice.Request(ctx, lattice.ConfigSubject(s.latticePrefix), payload, timeout)
	if err != nil {
		s.logger.Info("supplemental config fetch failed, continuing without it", "error", err.Error())
		return
	}
	s.supplementalConfig = body
}

// SupplementalConfig returns the supplemental configuration fetched at
// boot, if any.
func (s *Supervisor) SupplementalConfig() (any, bool) {
	return s.supplementalConfig, s.supplementalConfig != nil
}

// Purge terminates every actor and provider the host supervises.
// Actor supervision is out of scope for this subsystem (spec.md §1),
// so Purge delegates only to the Provider Supervisor's TerminateAll.
func (s *Supervisor) Purge(ctx context.Context) {
	s.providers.TerminateAll(ctx)
}

// Shutdown publishes host_stopped, purges every provider, and sleeps
// drainDelay to let the event reach the lattice before the caller
// exits the process (spec.md §4.6).
func (s *Supervisor) Shutdown(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanHostShutdown)
	defer span.End()

	body, err := s.encoder.Encode(lattice.KindHostStopped, map[string]any{
		"labels": s.labels,
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error(err, "failed to encode host_stopped")
	} else {
		lattice.Publisher(ctx, s.lattice, s.latticePrefix, body, func(err error) {
			s.logger.Error(err, "failed to publish host_stopped")
			metrics.RecordPublishFailure(lattice.KindHostStopped)
		})
	}

	s.Purge(ctx)
	time.Sleep(drainDelay)
}

// assembleLabels merges HOST_-prefixed environment variables
// (lowercased, prefix stripped) with platform-detected labels
// (spec.md §4.6, §8 property 5).
func assembleLabels(environ []string) map[string]string {
	labels := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if hostname, err := os.Hostname(); err == nil {
		labels["hostname"] = hostname
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, hostEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, hostEnvPrefix))
		labels[name] = value
	}

	return labels
}

// wordsFirst and wordsSecond supply the deterministic two-word
// friendly name generator. The source's own word lists are data, not
// a library concern; no example repo in this corpus ships a
// petname/word-list generator, so this stays on math/rand (see
// DESIGN.md).
var wordsFirst = []string{
	"quiet", "amber", "lucky", "gentle", "fuzzy", "brave", "calm", "eager",
	"quick", "bold", "wispy", "cosmic", "happy", "jolly", "merry", "sunny",
}

var wordsSecond = []string{
	"otter", "falcon", "heron", "badger", "sparrow", "marten", "lynx", "wren",
	"beetle", "cricket", "gopher", "hedgehog", "jackal", "kestrel", "mole", "vole",
}

// friendlyName deterministically derives a two-word name from
// hostKey. The value carries no semantic meaning beyond logging.
func friendlyName(hostKey string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(hostKey))
	seed := int64(h.Sum64())

	r := rand.New(rand.NewSource(seed))
	first := wordsFirst[r.Intn(len(wordsFirst))]
	second := wordsSecond[r.Intn(len(wordsSecond))]
	return first + "-" + second
}
