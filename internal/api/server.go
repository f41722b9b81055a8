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

// Package api is the HTTP control surface: registry management, tool
// invocation, the engine bridge, status, and the dashboard event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/toolhub/internal/hub"
	toolhublog "github.com/tombee/toolhub/internal/log"
)

// DefaultHeartbeat is the keep-alive interval of the event stream.
const DefaultHeartbeat = 15 * time.Second

// Server serves the control surface for one hub.
type Server struct {
	hub       *hub.Hub
	logger    *slog.Logger
	heartbeat time.Duration
	started   time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat overrides DefaultHeartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// New creates a server for h.
func New(h *hub.Hub, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:       h,
		logger:    toolhublog.WithComponent(logger, "api"),
		heartbeat: DefaultHeartbeat,
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers every route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/servers", s.handleListServers)
	mux.HandleFunc("POST /v1/servers", s.handleCreateServer)
	mux.HandleFunc("GET /v1/servers/{id}", s.handleGetServer)
	mux.HandleFunc("PATCH /v1/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /v1/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("POST /v1/servers/{id}/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/servers/{id}/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /v1/servers/{id}/logs", s.handleLogs)
	mux.HandleFunc("GET /v1/servers/{id}/events", s.handleConnectionEvents)
	mux.HandleFunc("POST /v1/servers/sync", s.handleSync)

	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/resources", s.handleListResources)
	mux.HandleFunc("POST /v1/invoke", s.handleInvoke)
	mux.HandleFunc("POST /v1/invoke/batch", s.handleInvokeBatch)

	mux.HandleFunc("GET /v1/engine/tools", s.handleEngineTools)
	mux.HandleFunc("POST /v1/engine/call", s.handleEngineCall)

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/findings", s.handleFindings)
	mux.HandleFunc("GET /v1/invocations", s.handleInvocations)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.hub.Prom, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return toolhublog.HTTPMiddleware(s.logger, mux)
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// grace.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Event streams hold connections open until their context ends.
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
