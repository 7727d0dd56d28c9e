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

// Package metrics exposes Prometheus metric families for the host
// supervisor and the provider lifecycle subsystem.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostrt_build_info",
			Help: "Build information for the host supervisor",
		},
		[]string{"version", "git_sha", "go_version", "component"},
	)

	providersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostrt_providers_running",
			Help: "Number of provider instances currently registered",
		},
	)

	providerStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostrt_provider_starts_total",
			Help: "Total number of provider start attempts by contract id and outcome",
		},
		[]string{"contract_id", "outcome"},
	)

	providerStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostrt_provider_stops_total",
			Help: "Total number of provider_stopped events by reason",
		},
		[]string{"contract_id", "reason"},
	)

	providerSpawnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostrt_provider_spawn_duration_seconds",
			Help:    "Duration from start request to provider_started being published",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	healthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostrt_health_checks_total",
			Help: "Total number of health probe outcomes by result",
		},
		[]string{"result"},
	)

	healthEdgeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostrt_health_edge_transitions_total",
			Help: "Total number of healthy state edge transitions",
		},
		[]string{"edge"},
	)

	publishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostrt_publish_failures_total",
			Help: "Total number of lattice publish failures by event type",
		},
		[]string{"event_type"},
	)
)

// Outcomes for provider start attempts.
const (
	OutcomeStarted           = "started"
	OutcomeAlreadyRegistered = "already_registered"
	OutcomeSpawnFailed       = "spawn_failed"
)

// Health probe outcomes.
const (
	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultTimeout = "timeout"
)

// Health edges.
const (
	EdgeBecameHealthy   = "became_healthy"
	EdgeBecameUnhealthy = "became_unhealthy"
)

// SetupBuildInfo publishes build information for a component.
func SetupBuildInfo(version, gitSHA, component string) {
	buildInfo.WithLabelValues(version, gitSHA, runtime.Version(), component).Set(1)
}

// SetProvidersRunning sets the current provider registry size.
func SetProvidersRunning(n int) {
	providersRunning.Set(float64(n))
}

// RecordProviderStart records the outcome of a start_provider call.
func RecordProviderStart(contractID, outcome string) {
	providerStartsTotal.WithLabelValues(contractID, outcome).Inc()
}

// RecordProviderStop records a provider_stopped event.
func RecordProviderStop(contractID, reason string) {
	providerStopsTotal.WithLabelValues(contractID, reason).Inc()
}

// ObserveSpawnDuration records the time from start request to provider_started.
func ObserveSpawnDuration(d time.Duration) {
	providerSpawnDuration.Observe(d.Seconds())
}

// RecordHealthCheck records a single health probe outcome.
func RecordHealthCheck(result string) {
	healthChecksTotal.WithLabelValues(result).Inc()
}

// RecordHealthEdge records a healthy-state edge transition.
func RecordHealthEdge(edge string) {
	healthEdgeTransitionsTotal.WithLabelValues(edge).Inc()
}

// RecordPublishFailure records a failed lattice publish.
func RecordPublishFailure(eventType string) {
	publishFailuresTotal.WithLabelValues(eventType).Inc()
}

// Timer measures elapsed time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Registry returns the default Prometheus gatherer, which collects the
// metrics promauto registers with the default registerer.
func Registry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
