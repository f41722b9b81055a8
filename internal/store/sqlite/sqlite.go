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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ mcp.Store         = (*Store)(nil)
	_ health.FindingLog = (*Store)(nil)
)

// Store is a SQLite-backed implementation of mcp.Store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" works for tests.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database and runs migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the schema. Log tables use an autoincrement seq so
// newest-first listing does not depend on clock resolution.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_server ON audit_log(server_id)`,
		`CREATE TABLE IF NOT EXISTS connection_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			message TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connection_events_server ON connection_events(server_id)`,
		`CREATE TABLE IF NOT EXISTS invocations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT,
			server_id TEXT,
			success INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			error_kind TEXT,
			error TEXT,
			outcome_unknown INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_server ON invocations(server_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_timestamp ON invocations(timestamp)`,
		`CREATE TABLE IF NOT EXISTS health_findings (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			rule TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT,
			details TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_findings_server ON health_findings(server_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateServer inserts a server configuration.
func (s *Store) CreateServer(ctx context.Context, cfg mcp.ServerConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal server config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (id, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, cfg.ID, string(configJSON), boolInt(cfg.Enabled), formatTime(cfg.CreatedAt), formatTime(cfg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mcp.ErrServerExists(cfg.ID)
	}
	return nil
}

// GetServer retrieves a server configuration by ID.
func (s *Store) GetServer(ctx context.Context, id string) (mcp.ServerConfig, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM servers WHERE id = ?`, id).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return mcp.ServerConfig{}, mcp.ErrServerNotFound(id)
	}
	if err != nil {
		return mcp.ServerConfig{}, fmt.Errorf("failed to get server: %w", err)
	}
	return decodeServer(configJSON)
}

// UpdateServer replaces a stored server configuration.
func (s *Store) UpdateServer(ctx context.Context, cfg mcp.ServerConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal server config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE servers SET config = ?, enabled = ?, updated_at = ? WHERE id = ?
	`, string(configJSON), boolInt(cfg.Enabled), formatTime(cfg.UpdatedAt), cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mcp.ErrServerNotFound(cfg.ID)
	}
	return nil
}

// DeleteServer removes a server configuration. Log rows are kept.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mcp.ErrServerNotFound(id)
	}
	return nil
}

// ListServers returns all server configurations ordered by ID.
func (s *Store) ListServers(ctx context.Context) ([]mcp.ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	servers := []mcp.ServerConfig{}
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		cfg, err := decodeServer(configJSON)
		if err != nil {
			return nil, err
		}
		servers = append(servers, cfg)
	}
	return servers, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, entry mcp.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, server_id, action, detail, timestamp) VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.ServerID, string(entry.Action), nullString(entry.Detail), formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, serverID string, limit int) ([]mcp.AuditEntry, error) {
	query, args := listQuery(`SELECT id, server_id, action, detail, timestamp FROM audit_log`, serverID, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	entries := []mcp.AuditEntry{}
	for rows.Next() {
		var e mcp.AuditEntry
		var action, ts string
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ServerID, &action, &detail, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = mcp.AuditAction(action)
		e.Detail = detail.String
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AppendConnectionEvent(ctx context.Context, ev mcp.ConnectionEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_events (id, server_id, from_state, to_state, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.ServerID, string(ev.From), string(ev.To), nullString(ev.Message), formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append connection event: %w", err)
	}
	return nil
}

func (s *Store) ListConnectionEvents(ctx context.Context, serverID string, limit int) ([]mcp.ConnectionEvent, error) {
	query, args := listQuery(`SELECT id, server_id, from_state, to_state, message, timestamp FROM connection_events`, serverID, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection events: %w", err)
	}
	defer rows.Close()

	events := []mcp.ConnectionEvent{}
	for rows.Next() {
		var ev mcp.ConnectionEvent
		var from, to, ts string
		var message sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ServerID, &from, &to, &message, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan connection event: %w", err)
		}
		ev.From = mcp.State(from)
		ev.To = mcp.State(to)
		ev.Message = message.String
		ev.Timestamp = parseTime(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) AppendInvocation(ctx context.Context, rec mcp.InvocationRecord) error {
	var argsJSON []byte
	if rec.Arguments != nil {
		var err error
		argsJSON, err = json.Marshal(rec.Arguments)
		if err != nil {
			return fmt.Errorf("failed to marshal arguments: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (id, tool_name, arguments, server_id, success, latency_ms,
			error_kind, error, outcome_unknown, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ToolName, nullBytes(argsJSON), nullString(rec.ServerID), boolInt(rec.Success),
		rec.LatencyMs, nullString(string(rec.ErrorKind)), nullString(rec.Error),
		boolInt(rec.OutcomeUnknown), formatTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append invocation: %w", err)
	}
	return nil
}

func (s *Store) ListInvocations(ctx context.Context, filter mcp.InvocationFilter) ([]mcp.InvocationRecord, error) {
	query := `SELECT id, tool_name, arguments, server_id, success, latency_ms, error_kind, error,
		outcome_unknown, timestamp FROM invocations WHERE 1=1`
	var args []any
	if filter.ServerID != "" {
		query += ` AND server_id = ?`
		args = append(args, filter.ServerID)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(filter.Since))
	}
	query += ` ORDER BY timestamp DESC, seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	records := []mcp.InvocationRecord{}
	for rows.Next() {
		var rec mcp.InvocationRecord
		var argsJSON, serverID, errorKind, errStr sql.NullString
		var success, unknown int
		var ts string
		if err := rows.Scan(&rec.ID, &rec.ToolName, &argsJSON, &serverID, &success, &rec.LatencyMs,
			&errorKind, &errStr, &unknown, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		if argsJSON.Valid && argsJSON.String != "" {
			if err := json.Unmarshal([]byte(argsJSON.String), &rec.Arguments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}
		rec.ServerID = serverID.String
		rec.Success = success != 0
		rec.ErrorKind = mcp.ErrorKind(errorKind.String)
		rec.Error = errStr.String
		rec.OutcomeUnknown = unknown != 0
		rec.Timestamp = parseTime(ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) AppendFinding(ctx context.Context, f health.Finding) error {
	var detailsJSON []byte
	if f.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(f.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_findings (id, server_id, rule, severity, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ServerID, f.Rule, string(f.Severity), nullString(f.Message), nullBytes(detailsJSON), formatTime(f.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append finding: %w", err)
	}
	return nil
}

func (s *Store) ListFindings(ctx context.Context, serverID string, limit int) ([]health.Finding, error) {
	query, args := listQuery(`SELECT id, server_id, rule, severity, message, details, timestamp FROM health_findings`, serverID, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []health.Finding{}
	for rows.Next() {
		var f health.Finding
		var severity, ts string
		var message, details sql.NullString
		if err := rows.Scan(&f.ID, &f.ServerID, &f.Rule, &severity, &message, &details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &f.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		f.Severity = health.Severity(severity)
		f.Message = message.String
		f.Timestamp = parseTime(ts)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func listQuery(base, serverID string, limit int) (string, []any) {
	var args []any
	query := base
	if serverID != "" {
		query += ` WHERE server_id = ?`
		args = append(args, serverID)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return query, args
}

func decodeServer(configJSON string) (mcp.ServerConfig, error) {
	var cfg mcp.ServerConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return mcp.ServerConfig{}, fmt.Errorf("failed to unmarshal server config: %w", err)
	}
	return cfg, nil
}

// formatTime uses a fixed-width nano layout so string comparison in
// queries matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
