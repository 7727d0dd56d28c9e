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

// Package config holds the host supervisor's process-wide configuration,
// ingested at host init (spec §6) with an optional YAML overlay that
// hot-reloads on change.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/lattice-io/hostrt/internal/identity"
)

// Config holds the process-wide configuration keys ingested at host
// init, per spec.md §6.
type Config struct {
	HostKey       string `yaml:"hostKey"`
	LatticePrefix string `yaml:"latticePrefix"`

	ClusterKey     string   `yaml:"clusterKey"`
	ClusterIssuers []string `yaml:"clusterIssuers"`
	ClusterSeed    string   `yaml:"clusterSeed"`
	ClusterAdhoc   bool     `yaml:"clusterAdhoc"`

	HostSeed string `yaml:"hostSeed"`

	ProvRPCHost string `yaml:"provRPCHost"`
	ProvRPCPort int    `yaml:"provRPCPort"`
	ProvRPCJWT  string `yaml:"provRPCJWT"`
	ProvRPCSeed string `yaml:"provRPCSeed"`
	ProvRPCTLS  bool   `yaml:"provRPCTLS"`

	RPCTimeoutMS  int `yaml:"rpcTimeoutMS"`
	ProviderDelay int `yaml:"providerDelay"`

	EnableStructuredLogging bool   `yaml:"enableStructuredLogging"`
	JSDomain                string `yaml:"jsDomain"`
	ConfigServiceEnabled    bool   `yaml:"configServiceEnabled"`
}

// DefaultConfig returns a Config populated from the process environment,
// applying the defaults named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		HostKey:                 os.Getenv("HOST_KEY"),
		LatticePrefix:           getEnvWithDefault("LATTICE_PREFIX", "default"),
		ClusterKey:              os.Getenv("CLUSTER_KEY"),
		ClusterIssuers:          getEnvSliceWithDefault("CLUSTER_ISSUERS", nil),
		ClusterSeed:             os.Getenv("CLUSTER_SEED"),
		ClusterAdhoc:            getEnvBoolWithDefault("CLUSTER_ADHOC", false),
		HostSeed:                os.Getenv("HOST_SEED"),
		ProvRPCHost:             getEnvWithDefault("PROV_RPC_HOST", "127.0.0.1"),
		ProvRPCPort:             getEnvIntWithDefault("PROV_RPC_PORT", 4222),
		ProvRPCJWT:              os.Getenv("PROV_RPC_JWT"),
		ProvRPCSeed:             os.Getenv("PROV_RPC_SEED"),
		ProvRPCTLS:              getEnvBoolWithDefault("PROV_RPC_TLS", false),
		RPCTimeoutMS:            getEnvIntWithDefault("RPC_TIMEOUT_MS", 2000),
		ProviderDelay:           getEnvIntWithDefault("PROVIDER_DELAY", 300),
		EnableStructuredLogging: getEnvBoolWithDefault("ENABLE_STRUCTURED_LOGGING", true),
		JSDomain:                os.Getenv("JS_DOMAIN"),
		ConfigServiceEnabled:    identity.ParseTruthy(os.Getenv("CONFIG_SERVICE_ENABLED")),
	}
}

// Manager manages configuration with optional file-based hot reload,
// mirroring the teacher's fsnotify-driven config manager.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	watchers []chan *Config
	watcher  *fsnotify.Watcher
	file     string
}

// NewManager creates a configuration manager seeded from the
// environment, optionally overlaid by a YAML file.
func NewManager(configFile string) (*Manager, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	m := &Manager{
		config: cfg,
		file:   configFile,
	}

	if configFile != "" {
		if err := m.setupFileWatcher(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to watch config file: %v\n", err)
		}
	}

	return m, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Watch returns a channel that receives configuration updates.
func (m *Manager) Watch() <-chan *Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Config, 1)
	m.watchers = append(m.watchers, ch)
	ch <- m.config
	return ch
}

// Close releases the manager's file watcher and watcher channels.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.watchers {
		close(w)
	}
	m.watchers = nil

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) setupFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					m.reload()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Add(m.file)
}

func (m *Manager) reload() {
	cfg := DefaultConfig()
	if err := loadFromFile(m.file, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error reloading config: %v\n", err)
		return
	}

	m.mu.Lock()
	m.config = cfg
	watchers := make([]chan *Config, len(m.watchers))
	copy(watchers, m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		select {
		case w <- cfg:
		default:
		}
	}
}

func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

var (
	globalManager *Manager
	globalOnce    sync.Once
)

// InitGlobal initializes the process-wide configuration singleton.
func InitGlobal(configFile string) error {
	var err error
	globalOnce.Do(func() {
		globalManager, err = NewManager(configFile)
	})
	return err
}

// Global returns the process-wide configuration, defaulting to
// environment-sourced values if InitGlobal was never called.
func Global() *Config {
	if globalManager == nil {
		return DefaultConfig()
	}
	return globalManager.Get()
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
