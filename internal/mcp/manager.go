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

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

const (
	// DefaultHandshakeTimeout bounds spawn, handshake, and discovery.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultProbeTimeout bounds a single health probe.
	DefaultProbeTimeout = 5 * time.Second

	tracerName = "github.com/tombee/toolhub/internal/mcp"
)

// ConfigSource supplies the configuration a connection snapshots at connect time.
type ConfigSource interface {
	GetServer(ctx context.Context, id string) (ServerConfig, error)
}

// session is the runtime side of one server. The manager's map lock is only
// held to find or insert a session; everything else is per session.
type session struct {
	id string

	// opMu serializes connect and disconnect for this server.
	opMu sync.Mutex

	mu          sync.RWMutex
	state       State
	lastError   string
	cfg         ServerConfig
	transport   transport.Transport
	tools       []transport.Tool
	resources   []transport.Resource
	info        *ServerInfo
	connectedAt time.Time
	lastProbeAt time.Time

	logs *RingBuffer
}

func (s *session) snapshotLocked() ConnectionState {
	cs := ConnectionState{
		ServerID:       s.id,
		State:          s.state,
		LastError:      s.lastError,
		ToolsCount:     len(s.tools),
		ResourcesCount: len(s.resources),
	}
	if s.state == StateConnected {
		connectedAt := s.connectedAt
		cs.ConnectedAt = &connectedAt
		if s.info != nil {
			info := *s.info
			cs.ServerInfo = &info
		}
	}
	if !s.lastProbeAt.IsZero() {
		probed := s.lastProbeAt
		cs.LastProbeAt = &probed
	}
	return cs
}

// Manager establishes and supervises sessions with tool servers and keeps
// the catalog in step with them.
type Manager struct {
	configs ConfigSource
	catalog *Catalog
	bus     *Bus
	events  ConnectionEventLog
	factory TransportFactory
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time

	handshakeTimeout time.Duration
	probeTimeout     time.Duration
	logCapacity      int

	mu       sync.RWMutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	// Configs supplies server configurations (required).
	Configs ConfigSource

	// Catalog receives discovered tools. A new catalog is created if nil.
	Catalog *Catalog

	// Bus receives connection events. A new bus is created if nil.
	Bus *Bus

	// Events persists state transitions (optional).
	Events ConnectionEventLog

	// Factory builds transports. Defaults to NewTransportFactory with zero options.
	Factory TransportFactory

	// Metrics records connection metrics (optional).
	Metrics *Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// ProbeTimeout defaults to DefaultProbeTimeout.
	ProbeTimeout time.Duration

	// LogCapacity is the number of stderr lines kept per server.
	LogCapacity int

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Configs == nil {
		return nil, errors.New("config source is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = toolhublog.WithComponent(logger, "manager")

	m := &Manager{
		configs:          cfg.Configs,
		catalog:          cfg.Catalog,
		bus:              cfg.Bus,
		events:           cfg.Events,
		factory:          cfg.Factory,
		metrics:          cfg.Metrics,
		logger:           logger,
		now:              cfg.Now,
		handshakeTimeout: cfg.HandshakeTimeout,
		probeTimeout:     cfg.ProbeTimeout,
		logCapacity:      cfg.LogCapacity,
		sessions:         make(map[string]*session),
	}
	if m.catalog == nil {
		m.catalog = NewCatalog()
	}
	if m.bus == nil {
		m.bus = NewBus(logger)
	}
	if m.factory == nil {
		m.factory = NewTransportFactory(TransportOptions{Logger: logger})
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.handshakeTimeout <= 0 {
		m.handshakeTimeout = DefaultHandshakeTimeout
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = DefaultProbeTimeout
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	m.tracer = tp.Tracer(tracerName)
	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m, nil
}

// Catalog returns the catalog the manager maintains.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Bus returns the event bus the manager publishes on.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Track makes the manager aware of a server so its state can be reported
// before any connect. Enabling a disabled server moves it to disconnected.
func (m *Manager) Track(cfg ServerConfig) {
	s := m.sessionFor(cfg.ID, cfg.Enabled)

	s.mu.Lock()
	var ev *ConnectionEvent
	if cfg.Enabled && s.state == StateDisabled {
		ev = m.transitionLocked(s, StateDisconnected, "enabled")
	}
	s.mu.Unlock()
	m.record(ev)
}

// Connect establishes a session with a server, performs the handshake,
// and discovers its tools and resources. Connecting a connected server is
// a no-op. On failure the server is left in the error state.
func (m *Manager) Connect(ctx context.Context, id string) error {
	cfg, err := m.configs.GetServer(ctx, id)
	if err != nil {
		return err
	}

	s := m.sessionFor(id, cfg.Enabled)
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !cfg.Enabled {
		s.mu.Lock()
		ev := m.transitionLocked(s, StateDisabled, "disabled")
		s.mu.Unlock()
		m.record(ev)
		return ErrServerDisabled(id)
	}

	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.cfg = cfg.Clone()
	ev := m.transitionLocked(s, StateConnecting, "")
	s.mu.Unlock()
	m.record(ev)

	ctx, span := m.tracer.Start(ctx, "mcp.connect", trace.WithAttributes(
		attribute.String("server.id", id),
		attribute.String("server.transport", string(cfg.Transport)),
	))
	defer span.End()

	start := m.now()
	err = m.connect(ctx, s, cfg)
	m.metrics.observeConnect(id, err, m.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (m *Manager) connect(ctx context.Context, s *session, cfg ServerConfig) error {
	logger := toolhublog.WithServer(m.logger, s.id)

	t, err := m.factory(cfg, TransportHooks{
		Stderr: func(line string) {
			s.logs.Add(LogEntry{Timestamp: m.now(), Line: line})
		},
		OnNotification: func(method string, _ json.RawMessage) {
			m.handleNotification(s, method)
		},
	})
	if err != nil {
		return m.fail(s, ErrorCodeStartFailed, "cannot create transport", err)
	}

	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	handshake, err := t.Start(hctx)
	if err != nil {
		_ = t.Close(context.Background())
		return m.fail(s, ErrorCodeHandshakeFailed, "handshake failed", err)
	}

	tools, resources, err := m.discover(hctx, t, cfg, handshake)
	if err != nil {
		_ = t.Close(context.Background())
		return m.fail(s, ErrorCodeDiscoveryFailed, "discovery failed", err)
	}

	now := m.now()
	s.mu.Lock()
	s.transport = t
	s.tools = tools
	s.resources = resources
	s.connectedAt = now
	s.lastProbeAt = now
	s.info = &ServerInfo{
		Name:            handshake.ServerInfo.Name,
		Version:         handshake.ServerInfo.Version,
		ProtocolVersion: handshake.ProtocolVersion,
	}
	ev := m.transitionLocked(s, StateConnected, "")
	m.catalog.Set(s.id, cfg.Priority, tools, resources)
	s.mu.Unlock()
	m.record(ev)

	logger.Info("tool server connected",
		"transport", string(cfg.Transport),
		"tools", len(tools),
		"resources", len(resources),
		"server_name", handshake.ServerInfo.Name,
	)

	m.wg.Add(1)
	go m.watch(s, t)
	return nil
}

// discover lists tools and resources. Tools are listed when either the
// config or the handshake says the server has them. A resource listing
// failure is only fatal when the config requires resources.
func (m *Manager) discover(ctx context.Context, t transport.Transport, cfg ServerConfig, handshake *mcpgo.InitializeResult) ([]transport.Tool, []transport.Resource, error) {
	var tools []transport.Tool
	if cfg.Capabilities.Tools || handshake.Capabilities.Tools != nil {
		list, err := t.ListTools(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list tools: %w", err)
		}
		tools = list
	}

	var resources []transport.Resource
	if cfg.Capabilities.Resources || handshake.Capabilities.Resources != nil {
		list, err := t.ListResources(ctx)
		switch {
		case err == nil:
			resources = list
		case cfg.Capabilities.Resources:
			return nil, nil, fmt.Errorf("list resources: %w", err)
		default:
			m.logger.Warn("resource listing failed", toolhublog.ServerIDKey, cfg.ID, "error", err)
		}
	}
	return tools, resources, nil
}

// watch moves a server to the error state when its session ends without
// being asked to.
func (m *Manager) watch(s *session, t transport.Transport) {
	defer m.wg.Done()

	select {
	case <-t.Done():
	case <-m.ctx.Done():
		return
	}

	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	m.catalog.Remove(s.id)
	s.transport = nil
	s.tools = nil
	s.resources = nil
	reason := "session ended"
	if err := t.Err(); err != nil {
		reason = err.Error()
	}
	s.lastError = reason
	ev := m.transitionLocked(s, StateError, reason)
	s.mu.Unlock()
	m.record(ev)

	m.logger.Warn("tool server session ended unexpectedly", toolhublog.ServerIDKey, s.id, "reason", reason)
	m.bus.Publish(Event{Type: EventFailed, ServerID: s.id, Message: reason})

	_ = t.Close(context.Background())
}

// Disconnect ends a server's session and releases its transport. It is
// idempotent and always leaves the server disconnected.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	s := m.lookup(id)
	if s == nil {
		return nil
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m.disconnectLocked(ctx, s, StateDisconnected, "disconnected")
	return nil
}

// Disable disconnects a server and marks it disabled.
func (m *Manager) Disable(ctx context.Context, id string) {
	s := m.sessionFor(id, false)
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m.disconnectLocked(ctx, s, StateDisabled, "disabled")
}

// Forget disconnects a server and drops its runtime state.
func (m *Manager) Forget(ctx context.Context, id string) {
	s := m.lookup(id)
	if s == nil {
		return
	}
	s.opMu.Lock()
	m.disconnectLocked(ctx, s, StateDisconnected, "removed")
	s.opMu.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.metrics.forget(id)
}

// disconnectLocked must be called with s.opMu held. Descriptors are removed
// before the transport is closed, and the final state is only reported once
// the transport has been released.
func (m *Manager) disconnectLocked(ctx context.Context, s *session, final State, reason string) {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.tools = nil
	s.resources = nil
	m.catalog.Remove(s.id)
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(ctx); err != nil {
			m.logger.Debug("transport close reported an error", toolhublog.ServerIDKey, s.id, "error", err)
		}
	}

	s.mu.Lock()
	s.lastError = ""
	ev := m.transitionLocked(s, final, reason)
	s.mu.Unlock()
	m.record(ev)

	if t != nil {
		m.logger.Info("tool server disconnected", toolhublog.ServerIDKey, s.id, "reason", reason)
	}
}

// State returns a server's connection state.
func (m *Manager) State(id string) (ConnectionState, bool) {
	s := m.lookup(id)
	if s == nil {
		return ConnectionState{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), true
}

// States returns every tracked server's connection state, sorted by id.
func (m *Manager) States() []ConnectionState {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]ConnectionState, 0, len(sessions))
	for _, s := range sessions {
		s.mu.RLock()
		out = append(out, s.snapshotLocked())
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// IsActive reports whether a server is connecting or connected.
func (m *Manager) IsActive(id string) bool {
	st, ok := m.State(id)
	return ok && st.State.Active()
}

// SessionConfig returns the config snapshot the current session was
// established with.
func (m *Manager) SessionConfig(id string) (ServerConfig, bool) {
	s := m.lookup(id)
	if s == nil {
		return ServerConfig{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transport == nil {
		return ServerConfig{}, false
	}
	return s.cfg.Clone(), true
}

// CallTool calls a tool on a connected server.
func (m *Manager) CallTool(ctx context.Context, serverID, tool string, args map[string]any) (*transport.ToolResult, error) {
	t, err := m.liveTransport(serverID)
	if err != nil {
		return nil, err
	}
	return t.CallTool(ctx, tool, args)
}

// Probe pings a connected server and records when it last answered. A
// network session that fails its probe is ended, which moves the server to
// the error state.
func (m *Manager) Probe(ctx context.Context, id string) error {
	t, err := m.liveTransport(id)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := t.Ping(pctx); err != nil {
		if f, ok := t.(interface{ Fail(error) }); ok {
			f.Fail(fmt.Errorf("probe failed: %w", err))
		}
		return err
	}

	if s := m.lookup(id); s != nil {
		s.mu.Lock()
		if s.transport == t {
			s.lastProbeAt = m.now()
		}
		s.mu.Unlock()
	}
	return nil
}

// Logs returns up to n of the most recent stderr lines of a server.
func (m *Manager) Logs(id string, n int) []LogEntry {
	s := m.lookup(id)
	if s == nil {
		return nil
	}
	return s.logs.Last(n)
}

// ConnectAll connects the given servers concurrently. Failures are logged
// and leave the server in the error state; they do not stop the others.
func (m *Manager) ConnectAll(ctx context.Context, ids []string) {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Connect(ctx, id); err != nil {
				m.logger.Warn("tool server failed to connect", toolhublog.ServerIDKey, id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close disconnects every server.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			s.opMu.Lock()
			defer s.opMu.Unlock()
			s.mu.RLock()
			final := StateDisconnected
			if s.state == StateDisabled {
				final = StateDisabled
			}
			s.mu.RUnlock()
			m.disconnectLocked(ctx, s, final, "shutdown")
			return nil
		})
	}
	_ = g.Wait()

	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *Manager) liveTransport(id string) (transport.Transport, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, ErrNotConnected(id)
	}
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return nil, ErrNotConnected(id)
	}
	return t, nil
}

func (m *Manager) handleNotification(s *session, method string) {
	if method != "notifications/tools/list_changed" {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		s.mu.RLock()
		t := s.transport
		priority := s.cfg.Priority
		s.mu.RUnlock()
		if t == nil {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout)
		defer cancel()
		tools, err := t.ListTools(ctx)
		if err != nil {
			m.logger.Warn("tool list refresh failed", toolhublog.ServerIDKey, s.id, "error", err)
			return
		}

		s.mu.Lock()
		if s.transport != t {
			s.mu.Unlock()
			return
		}
		s.tools = tools
		m.catalog.Set(s.id, priority, tools, s.resources)
		s.mu.Unlock()

		m.bus.Publish(Event{
			Type:     EventToolsChanged,
			ServerID: s.id,
			Details:  map[string]any{"tools": len(tools)},
		})
	}()
}

func (m *Manager) fail(s *session, code ErrorCode, msg string, cause error) error {
	reason := fmt.Sprintf("%s: %v", msg, cause)
	s.mu.Lock()
	s.lastError = reason
	ev := m.transitionLocked(s, StateError, reason)
	s.mu.Unlock()
	m.record(ev)

	m.logger.Warn("tool server connect failed", toolhublog.ServerIDKey, s.id, "error", reason)
	m.bus.Publish(Event{Type: EventFailed, ServerID: s.id, Message: reason})
	return NewConnectionError(code, s.id, msg, cause)
}

// transitionLocked updates the state with s.mu held and returns the event
// to record once the lock is released, or nil if nothing changed.
func (m *Manager) transitionLocked(s *session, to State, msg string) *ConnectionEvent {
	from := s.state
	if from == to {
		return nil
	}
	s.state = to
	m.metrics.setState(s.id, to)
	return &ConnectionEvent{
		ID:        uuid.NewString(),
		ServerID:  s.id,
		From:      from,
		To:        to,
		Message:   msg,
		Timestamp: m.now(),
	}
}

// record persists and publishes a transition.
func (m *Manager) record(ev *ConnectionEvent) {
	if ev == nil {
		return
	}
	m.metrics.setCatalogSize(len(m.catalog.AllTools()))
	if m.events != nil {
		if err := m.events.AppendConnectionEvent(context.Background(), *ev); err != nil {
			m.logger.Error("failed to persist connection event", toolhublog.ServerIDKey, ev.ServerID, "error", err)
		}
	}

	typ := EventDisconnected
	switch ev.To {
	case StateConnecting:
		typ = EventConnecting
	case StateConnected:
		typ = EventConnected
	case StateError:
		// Failures are published by the code that knows the cause.
		return
	}
	m.bus.Publish(Event{
		Type:      typ,
		ServerID:  ev.ServerID,
		Timestamp: ev.Timestamp,
		Message:   ev.Message,
		Details:   map[string]any{"from": string(ev.From), "to": string(ev.To)},
	})
}

func (m *Manager) lookup(id string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) sessionFor(id string, enabled bool) *session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}
	state := StateDisconnected
	if !enabled {
		state = StateDisabled
	}
	s := &session{id: id, state: state, logs: NewRingBuffer(m.logCapacity)}
	m.sessions[id] = s
	m.metrics.setState(id, state)
	return s
}
