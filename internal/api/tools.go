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

	"github.com/tombee/toolhub/internal/chatbridge"
	"github.com/tombee/toolhub/internal/mcp"
)

// ToolListResponse is the body of GET /v1/tools.
type ToolListResponse struct {
	Tools []mcp.ToolDescriptor `json:"tools"`
}

// ResourceListResponse is the body of GET /v1/resources.
type ResourceListResponse struct {
	Resources []mcp.ResourceDescriptor `json:"resources"`
}

// handleListTools handles GET /v1/tools[?server=id].
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	catalog := s.hub.Manager.Catalog()
	var tools []mcp.ToolDescriptor
	if id := r.URL.Query().Get("server"); id != "" {
		tools = catalog.ToolsForServer(id)
	} else {
		tools = catalog.AllTools()
	}
	if tools == nil {
		tools = []mcp.ToolDescriptor{}
	}
	writeJSON(w, http.StatusOK, ToolListResponse{Tools: tools})
}

// handleListResources handles GET /v1/resources[?server=id].
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	catalog := s.hub.Manager.Catalog()
	var resources []mcp.ResourceDescriptor
	if id := r.URL.Query().Get("server"); id != "" {
		resources = catalog.ResourcesForServer(id)
	} else {
		resources = catalog.AllResources()
	}
	if resources == nil {
		resources = []mcp.ResourceDescriptor{}
	}
	writeJSON(w, http.StatusOK, ResourceListResponse{Resources: resources})
}

// handleInvoke handles POST /v1/invoke. Failed calls still carry their
// invocation record.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	res, err := s.hub.Invoker.Invoke(r.Context(), req.Tool, req.Arguments)
	if err != nil {
		body := errorBody(err)
		if res != nil {
			rec := res.Record
			body.Record = &rec
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BatchRequest is the body of POST /v1/invoke/batch.
type BatchRequest struct {
	Requests []mcp.Request `json:"requests"`
}

// BatchItem is one result of a batch, in request order.
type BatchItem struct {
	Result *mcp.InvocationResult `json:"result,omitempty"`
	Error  *ErrorResponse        `json:"error,omitempty"`
}

// BatchResponse is the body of a batch reply.
type BatchResponse struct {
	Results []BatchItem `json:"results"`
}

// handleInvokeBatch handles POST /v1/invoke/batch.
func (s *Server) handleInvokeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	results := s.hub.Invoker.InvokeBatch(r.Context(), req.Requests)
	resp := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, br := range results {
		item := BatchItem{Result: br.Result}
		if br.Err != nil {
			body := errorBody(br.Err)
			item.Error = &body
		}
		resp.Results[i] = item
	}
	writeJSON(w, http.StatusOK, resp)
}

// EngineToolsResponse is the body of GET /v1/engine/tools.
type EngineToolsResponse struct {
	Functions []chatbridge.FunctionDeclaration `json:"functions"`
}

// handleEngineTools handles GET /v1/engine/tools.
func (s *Server) handleEngineTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EngineToolsResponse{Functions: s.hub.Bridge.ToolsForEngine()})
}

// handleEngineCall handles POST /v1/engine/call. Tool failures are reported
// inside the result, never as an HTTP error.
func (s *Server) handleEngineCall(w http.ResponseWriter, r *http.Request) {
	var call chatbridge.ToolCall
	if !decodeJSON(w, r, &call) {
		return
	}
	writeJSON(w, http.StatusOK, s.hub.Bridge.InvokeFromEngine(r.Context(), call))
}
