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
	"io"
	"time"
)

// AuditAction names a registry change.
type AuditAction string

const (
	AuditCreate          AuditAction = "create"
	AuditUpdate          AuditAction = "update"
	AuditDelete          AuditAction = "delete"
	AuditForceDisconnect AuditAction = "force_disconnect"
	AuditSync            AuditAction = "sync"
)

// AuditEntry records one registry change.
type AuditEntry struct {
	ID        string      `json:"id"`
	ServerID  string      `json:"server_id"`
	Action    AuditAction `json:"action"`
	Detail    string      `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionEvent records one state transition.
type ConnectionEvent struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InvocationFilter narrows ListInvocations. Zero fields match everything.
type InvocationFilter struct {
	ServerID string
	Since    time.Time
	Limit    int
}

// ServerStore persists server configurations. Implementations return
// ErrServerNotFound and ErrServerExists for the obvious cases.
type ServerStore interface {
	CreateServer(ctx context.Context, cfg ServerConfig) error
	GetServer(ctx context.Context, id string) (ServerConfig, error)
	UpdateServer(ctx context.Context, cfg ServerConfig) error
	DeleteServer(ctx context.Context, id string) error
	ListServers(ctx context.Context) ([]ServerConfig, error)
}

// AuditLog is the append-only registry audit trail.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	// ListAudit returns the newest entries first. Empty serverID lists all.
	ListAudit(ctx context.Context, serverID string, limit int) ([]AuditEntry, error)
}

// ConnectionEventLog is the append-only log of state transitions.
type ConnectionEventLog interface {
	AppendConnectionEvent(ctx context.Context, ev ConnectionEvent) error
	// ListConnectionEvents returns the newest events first.
	ListConnectionEvents(ctx context.Context, serverID string, limit int) ([]ConnectionEvent, error)
}

// InvocationLog is the append-only log of invocation records.
type InvocationLog interface {
	AppendInvocation(ctx context.Context, rec InvocationRecord) error
	// ListInvocations returns records newest first by completion timestamp.
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]InvocationRecord, error)
}

// Store is everything the orchestration layer persists.
type Store interface {
	ServerStore
	AuditLog
	ConnectionEventLog
	InvocationLog
	io.Closer
}
