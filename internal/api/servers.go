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
	"net/http"
	"strconv"

	"github.com/tombee/toolhub/internal/mcp"
)

// ServerView is a registered server with its runtime state.
type ServerView struct {
	Config mcp.ServerConfig    `json:"config"`
	Status mcp.ConnectionState `json:"status"`
}

// ServerListResponse is the body of GET /v1/servers.
type ServerListResponse struct {
	Servers []ServerView `json:"servers"`
}

func (s *Server) view(cfg mcp.ServerConfig) ServerView {
	st, ok := s.hub.Manager.State(cfg.ID)
	if !ok {
		st = mcp.ConnectionState{ServerID: cfg.ID, State: mcp.StateDisconnected}
		if !cfg.Enabled {
			st.State = mcp.StateDisabled
		}
	}
	return ServerView{Config: cfg.Redacted(), Status: st}
}

// handleListServers handles GET /v1/servers. ?state= filters by state.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.hub.Registry.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	filter := r.URL.Query().Get("state")
	views := make([]ServerView, 0, len(cfgs))
	for _, cfg := range cfgs {
		v := s.view(cfg)
		if filter != "" && string(v.Status.State) != filter {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, ServerListResponse{Servers: views})
}

// handleCreateServer handles POST /v1/servers. ?connect=true connects the
// new server when it is enabled.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var cfg mcp.ServerConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}

	created, err := s.hub.Registry.Create(r.Context(), cfg)
	if err != nil {
		writeErr(w, err)
		return
	}

	if connect, _ := strconv.ParseBool(r.URL.Query().Get("connect")); connect && created.Enabled {
		if err := s.hub.Manager.Connect(r.Context(), created.ID); err != nil {
			s.logger.Warn("connect after create failed", "server_id", created.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, s.view(created))
}

// handleGetServer handles GET /v1/servers/{id}.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.hub.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

// handleUpdateServer handles PATCH /v1/servers/{id}.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var patch mcp.ServerPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	cfg, err := s.hub.Registry.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

// handleDeleteServer handles DELETE /v1/servers/{id}.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect handles POST /v1/servers/{id}/connect.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.hub.Registry.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.hub.Manager.Track(cfg)
	if err := s.hub.Manager.Connect(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

// handleDisconnect handles POST /v1/servers/{id}/disconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cfg, err := s.hub.Registry.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.hub.Manager.Disconnect(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(cfg))
}

// LogsResponse is the body of GET /v1/servers/{id}/logs.
type LogsResponse struct {
	ServerID string         `json:"server_id"`
	Lines    []mcp.LogEntry `json:"lines"`
}

// handleLogs handles GET /v1/servers/{id}/logs?lines=n.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.hub.Registry.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	n := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "lines must be a positive integer")
			return
		}
		n = v
	}

	lines := s.hub.Manager.Logs(id, n)
	if lines == nil {
		lines = []mcp.LogEntry{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{ServerID: id, Lines: lines})
}

// handleConnectionEvents handles GET /v1/servers/{id}/events.
func (s *Server) handleConnectionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.hub.Store.ListConnectionEvents(r.Context(), id, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []mcp.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// SyncRequest is the body of POST /v1/servers/sync.
type SyncRequest struct {
	Servers []mcp.ServerConfig `json:"servers"`
}

// handleSync handles POST /v1/servers/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.hub.Registry.Sync(r.Context(), req.Servers))
}
