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
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	toolhublog "github.com/tombee/toolhub/internal/log"
)

// Connections is the part of the connection manager the registry drives.
// *Manager implements it.
type Connections interface {
	Track(cfg ServerConfig)
	IsActive(id string) bool
	Disable(ctx context.Context, id string)
	Forget(ctx context.Context, id string)
}

// RegistryConfig configures the server registry.
type RegistryConfig struct {
	// Store persists configurations (required).
	Store ServerStore

	// Audit records every change (optional).
	Audit AuditLog

	// Connections is told about enable, disable, and delete (optional).
	Connections Connections

	// Bus receives config change events (optional).
	Bus *Bus

	Logger *slog.Logger
	Now    func() time.Time
}

// Registry is the source of truth for server configurations.
type Registry struct {
	store  ServerStore
	audit  AuditLog
	conns  Connections
	bus    *Bus
	logger *slog.Logger
	now    func() time.Time

	// mu serializes mutations so check-then-write sequences are atomic.
	mu sync.Mutex
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, errors.New("server store is required")
	}
	r := &Registry{
		store:  cfg.Store,
		audit:  cfg.Audit,
		conns:  cfg.Connections,
		bus:    cfg.Bus,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = toolhublog.WithComponent(r.logger, "registry")
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Create validates and stores a new server.
func (r *Registry) Create(ctx context.Context, cfg ServerConfig) (ServerConfig, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if err := r.store.CreateServer(ctx, cfg); err != nil {
		return ServerConfig{}, err
	}

	r.appendAudit(ctx, cfg.ID, AuditCreate, string(cfg.Transport))
	if r.conns != nil {
		r.conns.Track(cfg)
	}
	r.publish(cfg.ID, "created")
	r.logger.Info("server registered", toolhublog.ServerIDKey, cfg.ID, "transport", string(cfg.Transport))

	return cfg, nil
}

// Update applies a patch. The transport kind cannot change while the
// server is connecting or connected; other changes take effect on the next
// connect. Disabling an active server disconnects it.
func (r *Registry) Update(ctx context.Context, id string, patch ServerPatch) (ServerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.store.GetServer(ctx, id)
	if err != nil {
		return ServerConfig{}, err
	}
	return r.replaceLocked(ctx, cur, patch.Apply(cur), AuditUpdate)
}

func (r *Registry) replaceLocked(ctx context.Context, cur, next ServerConfig, action AuditAction) (ServerConfig, error) {
	id := cur.ID
	next.ID = id
	next.CreatedAt = cur.CreatedAt
	if next.Name == "" {
		next.Name = id
	}

	if next.Transport != cur.Transport && r.conns != nil && r.conns.IsActive(id) {
		err := NewConfigError(ErrorCodeImmutable, id, "transport", "transport cannot change while the server is connected")
		err.WithSuggestions("Disconnect the server first: toolhub servers disconnect " + id)
		return ServerConfig{}, err
	}
	if err := next.Validate(); err != nil {
		return ServerConfig{}, err
	}

	changed := changedFields(cur, next)
	if len(changed) == 0 {
		return cur, nil
	}

	next.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateServer(ctx, next); err != nil {
		return ServerConfig{}, err
	}
	r.appendAudit(ctx, id, action, strings.Join(changed, ","))

	if r.conns != nil {
		switch {
		case cur.Enabled && !next.Enabled:
			if r.conns.IsActive(id) {
				r.logger.Info("disabling connected server", toolhublog.ServerIDKey, id)
				r.appendAudit(ctx, id, AuditForceDisconnect, "disabled")
			}
			r.conns.Disable(ctx, id)
		case !cur.Enabled && next.Enabled:
			r.conns.Track(next)
		}
	}
	r.publish(id, "updated: "+strings.Join(changed, ","))

	return next, nil
}

// Delete removes a server, disconnecting it first if needed.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.GetServer(ctx, id); err != nil {
		return err
	}

	if r.conns != nil {
		if r.conns.IsActive(id) {
			r.logger.Warn("deleting connected server, forcing disconnect", toolhublog.ServerIDKey, id)
			r.appendAudit(ctx, id, AuditForceDisconnect, "deleted")
		}
		r.conns.Forget(ctx, id)
	}

	if err := r.store.DeleteServer(ctx, id); err != nil {
		return err
	}
	r.appendAudit(ctx, id, AuditDelete, "")
	r.publish(id, "deleted")
	r.logger.Info("server removed", toolhublog.ServerIDKey, id)
	return nil
}

// Get returns one server.
func (r *Registry) Get(ctx context.Context, id string) (ServerConfig, error) {
	return r.store.GetServer(ctx, id)
}

// GetServer implements ConfigSource.
func (r *Registry) GetServer(ctx context.Context, id string) (ServerConfig, error) {
	return r.store.GetServer(ctx, id)
}

// List returns every server, highest priority first.
func (r *Registry) List(ctx context.Context) ([]ServerConfig, error) {
	cfgs, err := r.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	SortServers(cfgs)
	return cfgs, nil
}

// SyncResult reports what Sync did per server id.
type SyncResult struct {
	Created   []string          `json:"created,omitempty"`
	Updated   []string          `json:"updated,omitempty"`
	Unchanged []string          `json:"unchanged,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Sync creates or updates servers from a declarative list. Servers absent
// from the list are left alone. Per-server failures are collected rather
// than aborting the sync.
func (r *Registry) Sync(ctx context.Context, cfgs []ServerConfig) SyncResult {
	var res SyncResult
	fail := func(id string, err error) {
		if res.Failed == nil {
			res.Failed = make(map[string]string)
		}
		res.Failed[id] = err.Error()
		r.logger.Warn("server sync failed", toolhublog.ServerIDKey, id, "error", err)
	}

	for _, cfg := range cfgs {
		r.mu.Lock()
		cur, err := r.store.GetServer(ctx, cfg.ID)
		var next ServerConfig
		if err == nil {
			next, err = r.replaceLocked(ctx, cur, cfg.Clone(), AuditSync)
		}
		r.mu.Unlock()

		switch {
		case err == nil && next.UpdatedAt.Equal(cur.UpdatedAt):
			res.Unchanged = append(res.Unchanged, cfg.ID)
		case err == nil:
			res.Updated = append(res.Updated, cfg.ID)
		case CodeOf(err) == ErrorCodeNotFound:
			if _, cerr := r.Create(ctx, cfg); cerr != nil {
				fail(cfg.ID, cerr)
			} else {
				res.Created = append(res.Created, cfg.ID)
			}
		default:
			fail(cfg.ID, err)
		}
	}
	return res
}

func (r *Registry) appendAudit(ctx context.Context, id string, action AuditAction, detail string) {
	if r.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		ServerID:  id,
		Action:    action,
		Detail:    detail,
		Timestamp: r.now().UTC(),
	}
	if err := r.audit.AppendAudit(ctx, entry); err != nil {
		r.logger.Error("failed to append audit entry", toolhublog.ServerIDKey, id, "action", string(action), "error", err)
	}
}

func (r *Registry) publish(id, msg string) {
	if r.bus != nil {
		r.bus.Publish(Event{Type: EventConfig, ServerID: id, Message: msg})
	}
}

// changedFields lists the json names of fields that differ, ignoring
// timestamps.
func changedFields(a, b ServerConfig) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	t := va.Type()

	var changed []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "CreatedAt" || f.Name == "UpdatedAt" {
			continue
		}
		fa, fb := va.Field(i).Interface(), vb.Field(i).Interface()
		if emptyEqual(fa, fb) || reflect.DeepEqual(fa, fb) {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		changed = append(changed, name)
	}
	return changed
}

// emptyEqual treats nil and empty slices and maps as equal.
func emptyEqual(a, b any) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ra.Kind() {
	case reflect.Slice, reflect.Map:
		return ra.Len() == 0 && rb.Len() == 0
	}
	return false
}

var _ ConfigSource = (*Registry)(nil)

func (r SyncResult) String() string {
	return fmt.Sprintf("created=%d updated=%d unchanged=%d failed=%d",
		len(r.Created), len(r.Updated), len(r.Unchanged), len(r.Failed))
}
