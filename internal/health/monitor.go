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

// Package health runs the periodic sweep that turns connection states and
// invocation aggregates into findings, probes live sessions, and makes
// bounded reconnect attempts for failed servers.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
)

const (
	// DefaultInterval is the time between sweeps.
	DefaultInterval = 30 * time.Second

	// DefaultSystemicThreshold is how many degraded servers make a
	// systemic finding.
	DefaultSystemicThreshold = 2

	// DefaultReconnectAttempts is the number of reconnects per error episode.
	DefaultReconnectAttempts = 1

	// SystemicRule names the cross-server finding.
	SystemicRule = "systemic_degradation"
)

// Sessions is the part of the connection manager the monitor uses.
// *mcp.Manager implements it.
type Sessions interface {
	States() []mcp.ConnectionState
	Probe(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) error
}

// ServerLister lists registered servers. *mcp.Registry implements it.
type ServerLister interface {
	List(ctx context.Context) ([]mcp.ServerConfig, error)
}

// Aggregates supplies windowed invocation metrics. *mcp.MetricsTracker
// implements it.
type Aggregates interface {
	Aggregate(serverID string) mcp.MetricsAggregate
}

// Config configures the monitor.
type Config struct {
	Sessions   Sessions
	Servers    ServerLister
	Aggregates Aggregates

	// Bus receives one event per finding (optional).
	Bus *mcp.Bus

	// Findings persists findings (optional).
	Findings FindingLog

	// Rules defaults to DefaultRules.
	Rules []Rule

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// ProbeOverdueAfter defaults to three intervals.
	ProbeOverdueAfter time.Duration

	// SystemicThreshold defaults to DefaultSystemicThreshold.
	SystemicThreshold int

	// ReconnectAttempts defaults to DefaultReconnectAttempts. Negative
	// disables reconnecting.
	ReconnectAttempts int

	// ReconnectDelay is the minimum time between entering the error state,
	// or a previous attempt, and the next attempt.
	ReconnectDelay time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type episode struct {
	since    time.Time
	attempts int
	last     time.Time
}

// Monitor sweeps every enabled server on a fixed interval. It only reads
// snapshots, so a slow or failing server never delays the sweep.
type Monitor struct {
	sessions   Sessions
	servers    ServerLister
	aggregates Aggregates
	bus        *mcp.Bus
	findings   FindingLog
	rules      *RuleSet
	logger     *slog.Logger
	now        func() time.Time

	interval          time.Duration
	probeOverdueAfter time.Duration
	systemicThreshold int
	reconnectAttempts int
	reconnectDelay    time.Duration

	mu       sync.Mutex
	latest   []Finding
	episodes map[string]*episode
	inflight map[string]bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	bg sync.WaitGroup
}

// NewMonitor compiles the rule table and creates a monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("health: sessions are required")
	}
	if cfg.Servers == nil {
		return nil, errors.New("health: server lister is required")
	}
	if cfg.Aggregates == nil {
		return nil, errors.New("health: aggregates are required")
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	rs, err := CompileRules(rules)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		sessions:          cfg.Sessions,
		servers:           cfg.Servers,
		aggregates:        cfg.Aggregates,
		bus:               cfg.Bus,
		findings:          cfg.Findings,
		rules:             rs,
		logger:            cfg.Logger,
		now:               cfg.Now,
		interval:          cfg.Interval,
		probeOverdueAfter: cfg.ProbeOverdueAfter,
		systemicThreshold: cfg.SystemicThreshold,
		reconnectAttempts: cfg.ReconnectAttempts,
		reconnectDelay:    cfg.ReconnectDelay,
		episodes:          make(map[string]*episode),
		inflight:          make(map[string]bool),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = toolhublog.WithComponent(m.logger, "health")
	if m.now == nil {
		m.now = time.Now
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.probeOverdueAfter <= 0 {
		m.probeOverdueAfter = 3 * m.interval
	}
	if m.systemicThreshold <= 0 {
		m.systemicThreshold = DefaultSystemicThreshold
	}
	if m.reconnectAttempts == 0 {
		m.reconnectAttempts = DefaultReconnectAttempts
	}
	return m, nil
}

// Start runs a sweep immediately and then every interval until Stop.
// Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	if m.cancel != nil {
		m.runMu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.runMu.Unlock()

	go func() {
		defer close(done)
		m.Sweep(loopCtx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Sweep(loopCtx)
			}
		}
	}()

	m.logger.Info("health monitor started", "interval", m.interval.String())
	return nil
}

// Stop ends the sweep loop and waits for in-flight probes and reconnects.
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	waited := make(chan struct{})
	go func() {
		<-done
		m.bg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the findings of the most recent sweep.
func (m *Monitor) Latest() []Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Finding(nil), m.latest...)
}

// Rules returns the active rule table.
func (m *Monitor) Rules() []Rule {
	return m.rules.Rules()
}

// Sweep evaluates every enabled server once, records the findings, and
// launches probes and reconnects in the background.
func (m *Monitor) Sweep(ctx context.Context) []Finding {
	cfgs, err := m.servers.List(ctx)
	if err != nil {
		m.logger.Error("health sweep could not list servers", toolhublog.Error(err))
		return m.Latest()
	}

	states := make(map[string]mcp.ConnectionState)
	for _, st := range m.sessions.States() {
		states[st.ServerID] = st
	}

	now := m.now()
	var findings []Finding
	var degraded []string
	var probe, reconnect []string

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			m.resetEpisode(cfg.ID)
			continue
		}

		st, ok := states[cfg.ID]
		if !ok {
			st = mcp.ConnectionState{ServerID: cfg.ID, State: mcp.StateDisconnected}
		}
		facts := m.facts(cfg, st, now)

		matched, err := m.rules.Match(facts)
		if err != nil {
			m.logger.Warn("health rule evaluation failed", toolhublog.ServerIDKey, cfg.ID, toolhublog.Error(err))
		}

		serious := false
		for _, r := range matched {
			findings = append(findings, m.finding(cfg.ID, r, facts, now))
			if r.Severity.Rank() >= SeverityHigh.Rank() {
				serious = true
			}
		}
		if serious {
			degraded = append(degraded, cfg.ID)
		}

		switch st.State {
		case mcp.StateConnected:
			m.resetEpisode(cfg.ID)
			probe = append(probe, cfg.ID)
		case mcp.StateError:
			if m.reconnectDue(cfg.ID, now) {
				reconnect = append(reconnect, cfg.ID)
			}
		case mcp.StateConnecting:
			// An attempt in progress belongs to the current episode.
		default:
			m.resetEpisode(cfg.ID)
		}
	}

	if len(degraded) >= m.systemicThreshold {
		sort.Strings(degraded)
		findings = append(findings, Finding{
			ID:        uuid.NewString(),
			ServerID:  SystemicServerID,
			Rule:      SystemicRule,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("%d servers degraded", len(degraded)),
			Details:   map[string]any{"servers": degraded},
			Timestamp: now,
		})
	}

	m.mu.Lock()
	m.latest = findings
	m.mu.Unlock()

	for _, f := range findings {
		m.record(ctx, f)
	}
	for _, id := range probe {
		m.launch(ctx, id, m.probe)
	}
	for _, id := range reconnect {
		m.launch(ctx, id, m.reconnect)
	}

	return append([]Finding(nil), findings...)
}

func (m *Monitor) facts(cfg mcp.ServerConfig, st mcp.ConnectionState, now time.Time) Facts {
	agg := m.aggregates.Aggregate(cfg.ID)
	f := Facts{
		ServerID:     cfg.ID,
		State:        string(st.State),
		Enabled:      cfg.Enabled,
		ErrorRate:    agg.ErrorRate(),
		AvgLatencyMs: agg.AverageLatencyMs,
		Requests:     agg.TotalRequests,
		Failures:     agg.Failures,
	}

	var last *time.Time
	switch {
	case st.LastProbeAt != nil:
		last = st.LastProbeAt
	case st.ConnectedAt != nil:
		last = st.ConnectedAt
	}
	if last != nil {
		since := now.Sub(*last)
		f.SinceProbeSec = since.Seconds()
		f.ProbeOverdue = st.State == mcp.StateConnected && since > m.probeOverdueAfter
	}
	return f
}

func (m *Monitor) finding(serverID string, r Rule, facts Facts, now time.Time) Finding {
	msg := r.Message
	if msg == "" {
		msg = "rule " + r.Name + " matched"
	}
	return Finding{
		ID:       uuid.NewString(),
		ServerID: serverID,
		Rule:     r.Name,
		Severity: r.Severity,
		Message:  serverID + ": " + msg,
		Details: map[string]any{
			"state":        facts.State,
			"errorRate":    facts.ErrorRate,
			"avgLatencyMs": facts.AvgLatencyMs,
			"requests":     facts.Requests,
		},
		Timestamp: now,
	}
}

func (m *Monitor) record(ctx context.Context, f Finding) {
	if m.findings != nil {
		if err := m.findings.AppendFinding(ctx, f); err != nil {
			m.logger.Error("failed to persist finding", toolhublog.ServerIDKey, f.ServerID, toolhublog.Error(err))
		}
	}
	if m.bus != nil {
		m.bus.Publish(mcp.Event{
			Type:      mcp.EventFinding,
			ServerID:  f.ServerID,
			Timestamp: f.Timestamp,
			Message:   f.Message,
			Details:   map[string]any{"rule": f.Rule, "severity": string(f.Severity)},
		})
	}
}

// reconnectDue reports whether the error episode of a server still has an
// attempt left and the delay since the last one has passed.
func (m *Monitor) reconnectDue(id string, now time.Time) bool {
	if m.reconnectAttempts < 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ep, ok := m.episodes[id]
	if !ok {
		ep = &episode{since: now}
		m.episodes[id] = ep
	}
	if ep.attempts >= m.reconnectAttempts || m.inflight[id] {
		return false
	}
	from := ep.since
	if !ep.last.IsZero() {
		from = ep.last
	}
	if now.Sub(from) < m.reconnectDelay {
		return false
	}
	ep.attempts++
	ep.last = now
	return true
}

func (m *Monitor) resetEpisode(id string) {
	m.mu.Lock()
	delete(m.episodes, id)
	m.mu.Unlock()
}

// launch runs fn for a server unless something is already in flight for it.
func (m *Monitor) launch(ctx context.Context, id string, fn func(context.Context, string)) {
	m.mu.Lock()
	if m.inflight[id] {
		m.mu.Unlock()
		return
	}
	m.inflight[id] = true
	m.mu.Unlock()

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, id)
			m.mu.Unlock()
		}()
		fn(ctx, id)
	}()
}

func (m *Monitor) probe(ctx context.Context, id string) {
	if err := m.sessions.Probe(ctx, id); err != nil {
		m.logger.Warn("health probe failed", toolhublog.ServerIDKey, id, toolhublog.Error(err))
	}
}

func (m *Monitor) reconnect(ctx context.Context, id string) {
	m.logger.Info("attempting reconnect", toolhublog.ServerIDKey, id)
	if err := m.sessions.Connect(ctx, id); err != nil {
		m.logger.Warn("reconnect failed", toolhublog.ServerIDKey, id, toolhublog.Error(err))
	}
}

// Wait blocks until in-flight probes and reconnects finish.
func (m *Monitor) Wait() {
	m.bg.Wait()
}
