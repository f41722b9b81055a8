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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
)

// ServerTotals counts registered servers.
type ServerTotals struct {
	Total     int `json:"total"`
	Enabled   int `json:"enabled"`
	Connected int `json:"connected"`
	Errored   int `json:"errored"`
}

// ServerStatus is the per-server part of StatusResponse.
type ServerStatus struct {
	ServerID  string               `json:"server_id"`
	State     mcp.State            `json:"state"`
	Enabled   bool                 `json:"enabled"`
	Tools     int                  `json:"tools"`
	LastError string               `json:"last_error,omitempty"`
	Metrics   mcp.MetricsAggregate `json:"metrics"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Version       string           `json:"version,omitempty"`
	Uptime        string           `json:"uptime"`
	Servers       ServerTotals     `json:"servers"`
	Tools         int              `json:"tools"`
	Resources     int              `json:"resources"`
	PerServer     []ServerStatus   `json:"per_server"`
	Findings      []health.Finding `json:"findings"`
	EventsDropped int64            `json:"events_dropped"`
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.hub.Registry.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	catalog := s.hub.Manager.Catalog()
	tracker := s.hub.Invoker.Tracker()
	resp := StatusResponse{
		Version:       s.hub.Version,
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Tools:         len(catalog.AllTools()),
		Resources:     len(catalog.AllResources()),
		PerServer:     make([]ServerStatus, 0, len(cfgs)),
		Findings:      s.hub.Monitor.Latest(),
		EventsDropped: s.hub.Bus.Dropped(),
	}
	if resp.Findings == nil {
		resp.Findings = []health.Finding{}
	}

	for _, cfg := range cfgs {
		v := s.view(cfg)
		resp.Servers.Total++
		if cfg.Enabled {
			resp.Servers.Enabled++
		}
		switch v.Status.State {
		case mcp.StateConnected:
			resp.Servers.Connected++
		case mcp.StateError:
			resp.Servers.Errored++
		}
		resp.PerServer = append(resp.PerServer, ServerStatus{
			ServerID:  cfg.ID,
			State:     v.Status.State,
			Enabled:   cfg.Enabled,
			Tools:     v.Status.ToolsCount,
			LastError: v.Status.LastError,
			Metrics:   tracker.Aggregate(cfg.ID),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFindings handles GET /v1/findings[?server=id&limit=n].
func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	findings, err := s.hub.Store.ListFindings(r.Context(), r.URL.Query().Get("server"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if findings == nil {
		findings = []health.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings})
}

// handleInvocations handles GET /v1/invocations[?server=id&limit=n&since=rfc3339].
func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := mcp.InvocationFilter{ServerID: r.URL.Query().Get("server"), Limit: limit}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		filter.Since = since
	}

	recs, err := s.hub.Store.ListInvocations(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []mcp.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": recs})
}

// handleAudit handles GET /v1/audit[?server=id&limit=n].
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.hub.Store.ListAudit(r.Context(), r.URL.Query().Get("server"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []mcp.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleEvents streams bus events as server-sent events until the client
// goes away. A slow client loses events rather than stalling publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, cancel := s.hub.Bus.Subscribe(mcp.DefaultSubscriberBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"runtime": runtime.Version(),
	})
}
