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

// Package memory provides an in-memory store for tests and ephemeral runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
)

// Compile-time interface assertions.
var (
	_ mcp.Store         = (*Store)(nil)
	_ health.FindingLog = (*Store)(nil)
)

// Store keeps everything in maps and slices guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	servers     map[string]mcp.ServerConfig
	audit       []mcp.AuditEntry
	events      []mcp.ConnectionEvent
	invocations []mcp.InvocationRecord
	findings    []health.Finding
}

// New creates an empty store.
func New() *Store {
	return &Store{servers: make(map[string]mcp.ServerConfig)}
}

func (s *Store) CreateServer(ctx context.Context, cfg mcp.ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[cfg.ID]; exists {
		return mcp.ErrServerExists(cfg.ID)
	}
	s.servers[cfg.ID] = cfg.Clone()
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (mcp.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.servers[id]
	if !exists {
		return mcp.ServerConfig{}, mcp.ErrServerNotFound(id)
	}
	return cfg.Clone(), nil
}

func (s *Store) UpdateServer(ctx context.Context, cfg mcp.ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[cfg.ID]; !exists {
		return mcp.ErrServerNotFound(cfg.ID)
	}
	s.servers[cfg.ID] = cfg.Clone()
	return nil
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[id]; !exists {
		return mcp.ErrServerNotFound(id)
	}
	delete(s.servers, id)
	return nil
}

func (s *Store) ListServers(ctx context.Context) ([]mcp.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mcp.ServerConfig, 0, len(s.servers))
	for _, cfg := range s.servers {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry mcp.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, serverID string, limit int) ([]mcp.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.audit, limit, func(e mcp.AuditEntry) bool {
		return serverID == "" || e.ServerID == serverID
	}), nil
}

func (s *Store) AppendConnectionEvent(ctx context.Context, ev mcp.ConnectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) ListConnectionEvents(ctx context.Context, serverID string, limit int) ([]mcp.ConnectionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.events, limit, func(e mcp.ConnectionEvent) bool {
		return serverID == "" || e.ServerID == serverID
	}), nil
}

// AppendInvocation keeps records ordered by completion time, so appends
// that land out of order are still listed in completion order.
func (s *Store) AppendInvocation(ctx context.Context, rec mcp.InvocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := sort.Search(len(s.invocations), func(i int) bool {
		return s.invocations[i].Timestamp.After(rec.Timestamp)
	})
	s.invocations = append(s.invocations, mcp.InvocationRecord{})
	copy(s.invocations[idx+1:], s.invocations[idx:])
	s.invocations[idx] = rec
	return nil
}

func (s *Store) ListInvocations(ctx context.Context, filter mcp.InvocationFilter) ([]mcp.InvocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.invocations, filter.Limit, func(r mcp.InvocationRecord) bool {
		if filter.ServerID != "" && r.ServerID != filter.ServerID {
			return false
		}
		return filter.Since.IsZero() || !r.Timestamp.Before(filter.Since)
	}), nil
}

func (s *Store) AppendFinding(ctx context.Context, f health.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, f)
	return nil
}

func (s *Store) ListFindings(ctx context.Context, serverID string, limit int) ([]health.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.findings, limit, func(f health.Finding) bool {
		return serverID == "" || f.ServerID == serverID
	}), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// newestFirst walks an append-only slice backwards.
func newestFirst[T any](items []T, limit int, keep func(T) bool) []T {
	out := []T{}
	for i := len(items) - 1; i >= 0; i-- {
		if !keep(items[i]) {
			continue
		}
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
