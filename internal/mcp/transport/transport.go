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

// Package transport provides the process and network sessions used to talk to
// tool servers. Both variants speak MCP (JSON-RPC 2.0) and expose the same
// Transport interface to the connection manager.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrClosed is returned by calls made on, or interrupted by, a closed session.
var ErrClosed = errors.New("transport closed")

// Transport is a live session with a single tool server.
type Transport interface {
	// Start establishes the session and performs the protocol handshake.
	Start(ctx context.Context) (*mcp.InitializeResult, error)

	// ListTools returns every tool the server exposes.
	ListTools(ctx context.Context) ([]Tool, error)

	// ListResources returns every resource the server exposes.
	ListResources(ctx context.Context) ([]Resource, error)

	// CallTool invokes a tool. A JSON-RPC error response is returned as *RPCError.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Ping checks that the server is responsive.
	Ping(ctx context.Context) error

	// Close ends the session, forcing it down if it does not close within
	// the configured grace period. Close is idempotent.
	Close(ctx context.Context) error

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	// Err reports why the session ended. It returns nil while the session is live.
	Err() error
}

// NotificationHandler receives server-initiated notifications.
type NotificationHandler func(method string, params json.RawMessage)

// Tool is a tool definition returned by discovery.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is a resource definition returned by discovery.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ContentItem is one piece of a tool result.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// ToolResult is the result of a tool call.
type ToolResult struct {
	Content           []ContentItem `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

// Text concatenates the text items of the result.
func (r *ToolResult) Text() string {
	var out string
	for _, item := range r.Content {
		if item.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += item.Text
		}
	}
	return out
}

// RPCError is a JSON-RPC error response from the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DefaultClientInfo identifies toolhub during the handshake.
var DefaultClientInfo = mcp.Implementation{Name: "toolhub", Version: "dev"}

func initializeParams(info mcp.Implementation) mcp.InitializeParams {
	if info.Name == "" {
		info = DefaultClientInfo
	}
	return mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo:      info,
		Capabilities:    mcp.ClientCapabilities{},
	}
}
