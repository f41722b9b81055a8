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

// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
)

// Store is what a backend must provide.
type Store interface {
	mcp.Store
	health.FindingLog
}

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("servers", func(t *testing.T) { testServers(t, newStore(t)) })
	t.Run("audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("connection events", func(t *testing.T) { testConnectionEvents(t, newStore(t)) })
	t.Run("invocations", func(t *testing.T) { testInvocations(t, newStore(t)) })
	t.Run("findings", func(t *testing.T) { testFindings(t, newStore(t)) })
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testServers(t *testing.T, s Store) {
	ctx := context.Background()
	cfg := mcp.ServerConfig{
		ID:        "files",
		Name:      "Files",
		Transport: mcp.TransportProcess,
		Command:   "files-server",
		Args:      []string{"--root", "/tmp"},
		Env:       []string{"MODE=ro"},
		Headers:   map[string]string{"X-Team": "infra"},
		Priority:  3,
		Tags:      []string{"fs"},
		Enabled:   true,
		Timeout:   2 * time.Second,
		RateLimit: 5,
		CreatedAt: base,
		UpdatedAt: base,
	}

	require.NoError(t, s.CreateServer(ctx, cfg))

	err := s.CreateServer(ctx, cfg)
	require.Error(t, err)
	assert.Equal(t, mcp.ErrorCodeAlreadyExists, mcp.CodeOf(err))

	got, err := s.GetServer(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, cfg.Args, got.Args)
	assert.Equal(t, cfg.Headers, got.Headers)
	assert.Equal(t, cfg.Timeout, got.Timeout)
	assert.Equal(t, cfg.RateLimit, got.RateLimit)
	assert.True(t, cfg.CreatedAt.Equal(got.CreatedAt))

	got.Args[0] = "mutated"
	again, err := s.GetServer(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, "--root", again.Args[0], "returned configs must not alias stored state")

	cfg.Enabled = false
	cfg.Priority = 9
	require.NoError(t, s.UpdateServer(ctx, cfg))
	got, err = s.GetServer(ctx, "files")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 9, got.Priority)

	require.NoError(t, s.CreateServer(ctx, mcp.ServerConfig{ID: "alpha", Transport: mcp.TransportNetwork, URL: "http://localhost:1", CreatedAt: base, UpdatedAt: base}))
	list, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "files", list[1].ID)

	require.NoError(t, s.DeleteServer(ctx, "files"))
	_, err = s.GetServer(ctx, "files")
	assert.Equal(t, mcp.ErrorCodeNotFound, mcp.CodeOf(err))
	assert.Equal(t, mcp.ErrorCodeNotFound, mcp.CodeOf(s.DeleteServer(ctx, "files")))
	assert.Equal(t, mcp.ErrorCodeNotFound, mcp.CodeOf(s.UpdateServer(ctx, cfg)))
}

func testAudit(t *testing.T, s Store) {
	ctx := context.Background()
	actions := []mcp.AuditAction{mcp.AuditCreate, mcp.AuditUpdate, mcp.AuditForceDisconnect, mcp.AuditDelete}
	for i, action := range actions {
		require.NoError(t, s.AppendAudit(ctx, mcp.AuditEntry{
			ID:        string(action),
			ServerID:  "a",
			Action:    action,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.AppendAudit(ctx, mcp.AuditEntry{ID: "other", ServerID: "b", Action: mcp.AuditCreate, Timestamp: base}))

	all, err := s.ListAudit(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "other", all[0].ID)

	forA, err := s.ListAudit(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, mcp.AuditDelete, forA[0].Action)
	assert.Equal(t, mcp.AuditForceDisconnect, forA[1].Action)
}

func testConnectionEvents(t *testing.T, s Store) {
	ctx := context.Background()
	transitions := [][2]mcp.State{
		{mcp.StateDisconnected, mcp.StateConnecting},
		{mcp.StateConnecting, mcp.StateConnected},
		{mcp.StateConnected, mcp.StateError},
	}
	for i, tr := range transitions {
		require.NoError(t, s.AppendConnectionEvent(ctx, mcp.ConnectionEvent{
			ID:        string(rune('a' + i)),
			ServerID:  "srv",
			From:      tr[0],
			To:        tr[1],
			Message:   "step",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	events, err := s.ListConnectionEvents(ctx, "srv", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, mcp.StateError, events[0].To)
	assert.Equal(t, mcp.StateConnected, events[0].From)
	assert.Equal(t, "step", events[0].Message)

	none, err := s.ListConnectionEvents(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testInvocations(t *testing.T, s Store) {
	ctx := context.Background()
	records := []mcp.InvocationRecord{
		{ID: "1", ToolName: "echo", ServerID: "a", Success: true, LatencyMs: 4, Arguments: map[string]any{"text": "hi"}, Timestamp: base},
		{ID: "2", ToolName: "missing", ErrorKind: mcp.ErrorKindNotFound, Error: "tool not found", Timestamp: base.Add(time.Second)},
		{ID: "3", ToolName: "slow", ServerID: "b", ErrorKind: mcp.ErrorKindTimeout, OutcomeUnknown: true, LatencyMs: 100, Timestamp: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		require.NoError(t, s.AppendInvocation(ctx, rec))
	}

	all, err := s.ListInvocations(ctx, mcp.InvocationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID)
	assert.True(t, all[0].OutcomeUnknown)
	assert.Equal(t, mcp.ErrorKindTimeout, all[0].ErrorKind)
	assert.Empty(t, all[1].ServerID)
	assert.Equal(t, "hi", all[2].Arguments["text"])
	assert.True(t, all[2].Success)

	forA, err := s.ListInvocations(ctx, mcp.InvocationFilter{ServerID: "a"})
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, "1", forA[0].ID)

	recent, err := s.ListInvocations(ctx, mcp.InvocationFilter{Since: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := s.ListInvocations(ctx, mcp.InvocationFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "3", limited[0].ID)

	// A record that finished earlier but was appended later sorts by its
	// completion time.
	late := mcp.InvocationRecord{ID: "4", ToolName: "echo", ServerID: "a", Success: true, Timestamp: base.Add(1500 * time.Millisecond)}
	require.NoError(t, s.AppendInvocation(ctx, late))
	all, err = s.ListInvocations(ctx, mcp.InvocationFilter{})
	require.NoError(t, err)
	ids := []string{}
	for _, rec := range all {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"3", "4", "2", "1"}, ids)
}

func testFindings(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendFinding(ctx, health.Finding{
		ID:        "f1",
		ServerID:  "a",
		Rule:      "unavailable",
		Severity:  health.SeverityCritical,
		Message:   "server a is error",
		Details:   map[string]any{"state": "error"},
		Timestamp: base,
	}))
	require.NoError(t, s.AppendFinding(ctx, health.Finding{
		ID: "f2", ServerID: health.SystemicServerID, Rule: "systemic", Severity: health.SeverityCritical, Timestamp: base.Add(time.Second),
	}))

	all, err := s.ListFindings(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "f2", all[0].ID)

	forA, err := s.ListFindings(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, health.SeverityCritical, forA[0].Severity)
	assert.Equal(t, "error", forA[0].Details["state"])
}
