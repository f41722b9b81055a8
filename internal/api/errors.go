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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tombee/toolhub/internal/mcp"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Record is set when a failed invocation was recorded.
	Record *mcp.InvocationRecord `json:"record,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErr maps a typed error to its status and body.
func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err))
}

func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Code: string(mcp.CodeOf(err))}
	if base := baseError(err); base != nil {
		resp.Detail = base.Detail
		resp.Suggestions = base.Suggestions
	}
	return resp
}

func baseError(err error) *mcp.MCPError {
	var ce *mcp.ConfigError
	if errors.As(err, &ce) {
		return ce.MCPError
	}
	var conn *mcp.ConnectionError
	if errors.As(err, &conn) {
		return conn.MCPError
	}
	var inv *mcp.InvocationError
	if errors.As(err, &inv) {
		return inv.MCPError
	}
	var base *mcp.MCPError
	if errors.As(err, &base) {
		return base
	}
	return nil
}

func statusFor(err error) int {
	switch mcp.CodeOf(err) {
	case mcp.ErrorCodeNotFound, mcp.ErrorCodeToolNotFound:
		return http.StatusNotFound
	case mcp.ErrorCodeValidation:
		return http.StatusBadRequest
	case mcp.ErrorCodeAlreadyExists, mcp.ErrorCodeImmutable, mcp.ErrorCodeDisabled, mcp.ErrorCodeNotConnected:
		return http.StatusConflict
	case mcp.ErrorCodeStartFailed, mcp.ErrorCodeHandshakeFailed, mcp.ErrorCodeDiscoveryFailed,
		mcp.ErrorCodeTransport, mcp.ErrorCodeToolFailed:
		return http.StatusBadGateway
	case mcp.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case mcp.ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// limitParam reads ?limit=, defaulting to def and capped at 1000.
func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if n > 1000 {
		n = 1000
	}
	return n, nil
}
