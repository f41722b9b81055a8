// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the toolhub configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/toolhub/internal/health"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Tracing exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config represents the complete toolhub configuration.
type Config struct {
	// Listen is the HTTP control surface address.
	// Environment: TOOLHUB_LISTEN
	Listen string `yaml:"listen"`

	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Manager   ManagerConfig   `yaml:"manager"`
	Health    HealthConfig    `yaml:"health"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// ServersFile is a YAML list of server configs synced into the registry
	// at startup and, when WatchServersFile is set, on every change.
	// Environment: TOOLHUB_SERVERS_FILE
	ServersFile      string `yaml:"servers_file,omitempty"`
	WatchServersFile bool   `yaml:"watch_servers_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is sqlite or memory.
	// Environment: TOOLHUB_STORAGE
	Backend string `yaml:"backend"`

	// Path is the sqlite database file.
	// Environment: TOOLHUB_DB
	Path string `yaml:"path"`

	WAL bool `yaml:"wal"`
}

// ManagerConfig tunes connections and transports.
type ManagerConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`

	// StartupDelay is waited after spawning a process server before the
	// handshake. Negative disables the wait.
	StartupDelay  time.Duration `yaml:"startup_delay"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// CallTimeout is the default per-call timeout.
	CallTimeout time.Duration `yaml:"call_timeout"`

	LogCapacity int `yaml:"log_capacity"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`

	// ProbeOverdueAfter defaults to three intervals.
	ProbeOverdueAfter time.Duration `yaml:"probe_overdue_after"`
	SystemicThreshold int           `yaml:"systemic_threshold"`

	// Rules replaces the built-in rule table when non-empty.
	Rules []health.Rule `yaml:"rules,omitempty"`
}

// ReconnectConfig bounds automatic reconnects of failed servers.
type ReconnectConfig struct {
	// MaxAttempts per failure episode. Negative disables reconnects.
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:7420",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    filepath.Join(DataDir(), "toolhub.db"),
			WAL:     true,
		},
		Manager: ManagerConfig{
			HandshakeTimeout: 30 * time.Second,
			ProbeTimeout:     10 * time.Second,
			StartupDelay:     500 * time.Millisecond,
			ShutdownGrace:    5 * time.Second,
			CallTimeout:      30 * time.Second,
			LogCapacity:      500,
		},
		Health: HealthConfig{
			Interval:          30 * time.Second,
			Window:            5 * time.Minute,
			SystemicThreshold: 2,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 1,
			Delay:       5 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    ExporterStdout,
			ServiceName: "toolhub",
			SampleRatio: 1.0,
		},
	}
}

// Load reads configPath (optional), fills defaults, applies environment
// overrides and validates the result. A missing file at the default path is
// not an error; a missing explicit path is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("config: failed to load from %s: %w", configPath, err)
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the file at ConfigPath if it exists.
func LoadDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Load("")
	}
	if _, err := os.Stat(path); err != nil {
		return Load("")
	}
	return Load(path)
}

// applyDefaults fills zero values so minimal files work.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}

	if c.Manager.HandshakeTimeout == 0 {
		c.Manager.HandshakeTimeout = d.Manager.HandshakeTimeout
	}
	if c.Manager.ProbeTimeout == 0 {
		c.Manager.ProbeTimeout = d.Manager.ProbeTimeout
	}
	if c.Manager.StartupDelay == 0 {
		c.Manager.StartupDelay = d.Manager.StartupDelay
	}
	if c.Manager.ShutdownGrace == 0 {
		c.Manager.ShutdownGrace = d.Manager.ShutdownGrace
	}
	if c.Manager.CallTimeout == 0 {
		c.Manager.CallTimeout = d.Manager.CallTimeout
	}
	if c.Manager.LogCapacity == 0 {
		c.Manager.LogCapacity = d.Manager.LogCapacity
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = d.Health.Interval
	}
	if c.Health.Window == 0 {
		c.Health.Window = d.Health.Window
	}
	if c.Health.SystemicThreshold == 0 {
		c.Health.SystemicThreshold = d.Health.SystemicThreshold
	}

	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = d.Reconnect.Delay
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = d.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = d.Tracing.SampleRatio
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Relative servers files are resolved against the config file.
	if c.ServersFile != "" && !filepath.IsAbs(c.ServersFile) && !strings.HasPrefix(c.ServersFile, "~/") {
		c.ServersFile = filepath.Join(filepath.Dir(path), c.ServersFile)
	}
	return nil
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("TOOLHUB_LISTEN"); val != "" {
		c.Listen = val
	}
	if val := os.Getenv("TOOLHUB_DB"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("TOOLHUB_STORAGE"); val != "" {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("TOOLHUB_SERVERS_FILE"); val != "" {
		c.ServersFile = val
	}
	if val := os.Getenv("TOOLHUB_CALL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Manager.CallTimeout = d
		}
	}
	if val := os.Getenv("TOOLHUB_HEALTH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Health.Interval = d
		}
	}
	if val := os.Getenv("TOOLHUB_TRACING"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
}

// Validate checks that the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []string

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("listen must be host:port, got %q", c.Listen))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}

	positive := []struct {
		name string
		v    time.Duration
	}{
		{"manager.handshake_timeout", c.Manager.HandshakeTimeout},
		{"manager.probe_timeout", c.Manager.ProbeTimeout},
		{"manager.shutdown_grace", c.Manager.ShutdownGrace},
		{"manager.call_timeout", c.Manager.CallTimeout},
		{"health.interval", c.Health.Interval},
		{"health.window", c.Health.Window},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %v", p.name, p.v))
		}
	}
	if c.Manager.LogCapacity < 0 {
		errs = append(errs, fmt.Sprintf("manager.log_capacity must not be negative, got %d", c.Manager.LogCapacity))
	}
	if c.Health.ProbeOverdueAfter < 0 {
		errs = append(errs, fmt.Sprintf("health.probe_overdue_after must not be negative, got %v", c.Health.ProbeOverdueAfter))
	}
	if c.Health.SystemicThreshold < 1 {
		errs = append(errs, fmt.Sprintf("health.systemic_threshold must be at least 1, got %d", c.Health.SystemicThreshold))
	}
	if len(c.Health.Rules) > 0 {
		if _, err := health.CompileRules(c.Health.Rules); err != nil {
			errs = append(errs, "health.rules: "+err.Error())
		}
	}
	if c.Reconnect.Delay < 0 {
		errs = append(errs, fmt.Sprintf("reconnect.delay must not be negative, got %v", c.Reconnect.Delay))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case ExporterStdout:
		case ExporterOTLP:
			if c.Tracing.Endpoint == "" {
				errs = append(errs, "tracing.endpoint is required for the otlp exporter")
			}
		default:
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [stdout, otlp], got %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
