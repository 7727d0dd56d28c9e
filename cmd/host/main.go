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

// Command host runs the Host Supervisor process: it initializes the
// Registration Tables, assembles startup labels, publishes
// host_started, serves the Provider Supervisor, and on termination
// publishes host_stopped and purges every provider (spec.md §4.6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lattice-io/hostrt/internal/config"
	"github.com/lattice-io/hostrt/internal/host"
	"github.com/lattice-io/hostrt/internal/lattice"
	"github.com/lattice-io/hostrt/internal/obs/health"
	"github.com/lattice-io/hostrt/internal/obs/logging"
	"github.com/lattice-io/hostrt/internal/obs/metrics"
	"github.com/lattice-io/hostrt/internal/obs/tracing"
	"github.com/lattice-io/hostrt/internal/providerproc"
	"github.com/lattice-io/hostrt/internal/registry"
	"github.com/lattice-io/hostrt/internal/supervisor"
	"github.com/lattice-io/hostrt/internal/version"
)

func main() {
	var configFile string
	var healthAddr string

	rootCmd := &cobra.Command{
		Use:     "host",
		Short:   "Runs the lattice host supervisor",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, healthAddr)
		},
	}

	rootCmd.Flags().StringVar(&configFile, "config", "", "optional YAML configuration overlay")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", ":8090", "address for the host's own liveness/readiness endpoints")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// unwiredLatticeClient is a placeholder satisfying lattice.Client until a
// concrete lattice bus connection is wired in. The lattice bus client
// is an external collaborator out of scope for this subsystem
// (spec.md §1, §6); every publish/request here fails fast rather than
// silently no-op, so operators notice a missing wire-up immediately
// instead of mistaking it for lattice connectivity.
type unwiredLatticeClient struct{}

func (unwiredLatticeClient) Publish(ctx context.Context, subject string, body []byte) error {
	return fmt.Errorf("lattice client not configured: cannot publish to %s", subject)
}

func (unwiredLatticeClient) Request(ctx context.Context, subject string, body []byte, timeout time.Duration) ([]byte, error) {
	return nil, fmt.Errorf("lattice client not configured: cannot request %s", subject)
}

// hostInfoSource is a minimal lattice.HostInfoSource used to build the
// Provider Instance's event encoder before the Host Supervisor itself
// (which also satisfies the interface) exists.
type hostInfoSource struct {
	hostKey       string
	latticePrefix string
}

func (h hostInfoSource) HostKey() string       { return h.hostKey }
func (h hostInfoSource) LatticePrefix() string { return h.latticePrefix }

func run(ctx context.Context, configFile, healthAddr string) error {
	if err := config.InitGlobal(configFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.Global()

	logr, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.DefaultConfig("hostrt-host", version.String()))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	checker := health.NewHealthChecker()
	go func() {
		if err := health.StartHTTPServer(healthAddr, checker); err != nil {
			logr.Error(err, "health http server exited")
		}
	}()

	tables := registry.NewTables()

	var latticeClient lattice.Client = unwiredLatticeClient{}

	providerDeps := providerproc.Deps{
		Tables:        tables,
		Lattice:       latticeClient,
		Encoder:       lattice.NewEncoder(hostInfoSource{hostKey: cfg.HostKey, latticePrefix: cfg.LatticePrefix}),
		RPCTimeout:    time.Duration(cfg.RPCTimeoutMS) * time.Millisecond,
		LatticePrefix: cfg.LatticePrefix,
		Logger:        logr,
	}

	providerSupervisor := supervisor.New(providerDeps, tables)
	hostSupervisor := host.New(host.Config{
		HostKey:       cfg.HostKey,
		LatticePrefix: cfg.LatticePrefix,
		Lattice:       latticeClient,
		Logger:        logr,
	}, tables, providerSupervisor)

	metrics.SetupBuildInfo(version.String(), version.GitSHA, "host")

	if err := hostSupervisor.Start(ctx, cfg); err != nil {
		return fmt.Errorf("failed to start host supervisor: %w", err)
	}
	logr.Info("host supervisor started", "friendly_name", hostSupervisor.FriendlyName(), "host_key", cfg.HostKey)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	logr.Info("shutting down host supervisor")
	hostSupervisor.Shutdown(context.Background())
	return nil
}
