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

// Package hub builds the orchestration context once and hands it to the HTTP
// surface and the CLI. Nothing in toolhub is a package-level singleton.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/toolhub/internal/chatbridge"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/health"
	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/store/memory"
	"github.com/tombee/toolhub/internal/store/sqlite"
	"github.com/tombee/toolhub/internal/tracing"
)

// Store is everything the hub persists.
type Store interface {
	mcp.Store
	health.FindingLog
}

// Options contains settings that do not come from the config file.
type Options struct {
	Version string

	Logger *slog.Logger

	// Store overrides the configured backend.
	Store Store

	// Factory overrides the transport factory.
	Factory mcp.TransportFactory

	// Registry receives Prometheus collectors. A private registry with Go
	// and process collectors is created if nil.
	Registry *prometheus.Registry

	// TracerProvider overrides the configured tracing provider.
	TracerProvider trace.TracerProvider
}

// StartOptions controls Start.
type StartOptions struct {
	// AutoConnect connects every enabled server.
	AutoConnect bool
}

// Hub owns the orchestration components.
type Hub struct {
	Config   *config.Config
	Store    Store
	Bus      *mcp.Bus
	Manager  *mcp.Manager
	Registry *mcp.Registry
	Invoker  *mcp.Invoker
	Monitor  *health.Monitor
	Bridge   *chatbridge.Bridge
	Metrics  *mcp.Metrics
	Prom     *prometheus.Registry
	Version  string

	logger  *slog.Logger
	tracing *tracing.Provider

	mu          sync.Mutex
	started     bool
	autoConnect bool
	watcher     *config.Watcher
}

// New wires the components. Nothing connects until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Hub, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{Config: cfg, Version: opts.Version, logger: toolhublog.WithComponent(logger, "hub")}

	store := opts.Store
	if store == nil {
		var err error
		store, err = openStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
	}
	h.Store = store

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	h.Prom = reg
	h.Metrics = mcp.NewMetrics(reg)

	tp := opts.TracerProvider
	if tp == nil {
		provider, err := tracing.New(ctx, tracing.Config{
			Enabled:        cfg.Tracing.Enabled,
			Exporter:       cfg.Tracing.Exporter,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: opts.Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		h.tracing = provider
		tp = provider.TracerProvider()
	}

	factory := opts.Factory
	if factory == nil {
		version := opts.Version
		if version == "" {
			version = "dev"
		}
		factory = mcp.NewTransportFactory(mcp.TransportOptions{
			StartupDelay:  cfg.Manager.StartupDelay,
			ShutdownGrace: cfg.Manager.ShutdownGrace,
			ClientInfo:    mcpgo.Implementation{Name: "toolhub", Version: version},
			Logger:        logger,
		})
	}

	h.Bus = mcp.NewBus(logger)

	var err error
	h.Manager, err = mcp.NewManager(mcp.ManagerConfig{
		Configs:          store,
		Bus:              h.Bus,
		Events:           store,
		Factory:          factory,
		Metrics:          h.Metrics,
		TracerProvider:   tp,
		HandshakeTimeout: cfg.Manager.HandshakeTimeout,
		ProbeTimeout:     cfg.Manager.ProbeTimeout,
		LogCapacity:      cfg.Manager.LogCapacity,
		Logger:           logger,
	})
	if err != nil {
		return nil, h.abort(ctx, err)
	}

	h.Registry, err = mcp.NewRegistry(mcp.RegistryConfig{
		Store:       store,
		Audit:       store,
		Connections: h.Manager,
		Bus:         h.Bus,
		Logger:      logger,
	})
	if err != nil {
		return nil, h.abort(ctx, err)
	}

	h.Invoker, err = mcp.NewInvoker(mcp.InvokerConfig{
		Sessions:       h.Manager,
		Catalog:        h.Manager.Catalog(),
		Log:            store,
		Tracker:        mcp.NewMetricsTracker(cfg.Health.Window, nil),
		Metrics:        h.Metrics,
		TracerProvider: tp,
		DefaultTimeout: cfg.Manager.CallTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, h.abort(ctx, err)
	}

	h.Monitor, err = health.NewMonitor(health.Config{
		Sessions:          h.Manager,
		Servers:           h.Registry,
		Aggregates:        h.Invoker.Tracker(),
		Bus:               h.Bus,
		Findings:          store,
		Rules:             cfg.Health.Rules,
		Interval:          cfg.Health.Interval,
		ProbeOverdueAfter: cfg.Health.ProbeOverdueAfter,
		SystemicThreshold: cfg.Health.SystemicThreshold,
		ReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:    cfg.Reconnect.Delay,
		Logger:            logger,
	})
	if err != nil {
		return nil, h.abort(ctx, err)
	}

	h.Bridge = chatbridge.New(h.Manager.Catalog(), h.Invoker, logger)
	return h, nil
}

func openStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite, "":
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.New(sqlite.Config{Path: cfg.Path, WAL: cfg.WAL})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// abort releases what New already acquired.
func (h *Hub) abort(ctx context.Context, err error) error {
	if h.tracing != nil {
		_ = h.tracing.Shutdown(ctx)
	}
	if h.Store != nil {
		_ = h.Store.Close()
	}
	return err
}

// Start tracks every registered server, syncs the servers file, optionally
// connects enabled servers, and starts the health monitor.
func (h *Hub) Start(ctx context.Context, opts StartOptions) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("hub already started")
	}
	h.started = true
	h.autoConnect = opts.AutoConnect
	h.mu.Unlock()

	servers, err := h.Registry.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}
	for _, s := range servers {
		h.Manager.Track(s)
	}

	if path := h.Config.ServersFile; path != "" {
		specs, err := config.LoadServersFile(path)
		if err != nil {
			return err
		}
		res := h.Registry.Sync(ctx, specs)
		h.logger.Info("servers file synced", "path", path, "result", res.String())
	}

	if opts.AutoConnect {
		ids := h.enabledIDs(ctx)
		h.logger.Info("connecting enabled servers", "count", len(ids))
		h.Manager.ConnectAll(ctx, ids)
	}

	if err := h.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	if h.Config.ServersFile != "" && h.Config.WatchServersFile {
		w, err := config.NewWatcher(config.WatcherConfig{
			Path:   h.Config.ServersFile,
			Apply:  h.ApplyServers,
			Logger: h.logger,
		})
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.watcher = w
		h.mu.Unlock()
	}
	return nil
}

// ApplyServers syncs a declarative server list into the registry. With
// auto-connect on, newly created enabled servers are connected.
func (h *Hub) ApplyServers(ctx context.Context, servers []mcp.ServerConfig) error {
	res := h.Registry.Sync(ctx, servers)
	h.logger.Info("servers synced", "result", res.String())

	h.mu.Lock()
	auto := h.autoConnect
	h.mu.Unlock()
	if auto && len(res.Created) > 0 {
		var ids []string
		for _, id := range res.Created {
			if cfg, err := h.Registry.Get(ctx, id); err == nil && cfg.Enabled {
				ids = append(ids, id)
			}
		}
		h.Manager.ConnectAll(ctx, ids)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d servers failed to sync", len(res.Failed))
	}
	return nil
}

func (h *Hub) enabledIDs(ctx context.Context) []string {
	servers, err := h.Registry.List(ctx)
	if err != nil {
		h.logger.Error("failed to list servers", toolhublog.Error(err))
		return nil
	}
	var ids []string
	for _, s := range servers {
		if s.Enabled {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Close stops the monitor and watcher, disconnects every server, flushes
// spans, and closes the store.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	w := h.watcher
	h.watcher = nil
	h.mu.Unlock()

	var errs []error
	if w != nil {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.Monitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health monitor: %w", err))
	}
	if err := h.Manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("manager: %w", err))
	}
	h.Bus.Close()
	if h.tracing != nil {
		if err := h.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}
	if err := h.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}
