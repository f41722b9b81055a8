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

// Package chatbridge exposes the tool catalog to a conversational engine's
// function-calling loop and turns every call outcome into a tool result the
// engine can show, including failures.
package chatbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

// Catalog lists exposed tools. *mcp.Catalog implements it.
type Catalog interface {
	AllTools() []mcp.ToolDescriptor
}

// Invoker runs tool calls. *mcp.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*mcp.InvocationResult, error)
	Reject(ctx context.Context, name string, cause error) (*mcp.InvocationResult, error)
}

// FunctionDeclaration is a tool in the engine's function-calling schema.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function call requested by the engine. Arguments is the
// raw JSON object the engine produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is handed back to the engine. Content is a JSON envelope.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Envelope statuses.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusFailed      = "failed"
)

// ErrorKindInvalidArguments marks calls whose arguments were not a JSON object.
const ErrorKindInvalidArguments = string(mcp.ErrorKindInvalidArguments)

// Envelope is the JSON document carried in ToolResult.Content.
type Envelope struct {
	Status         string `json:"status"`
	Content        any    `json:"content,omitempty"`
	Structured     any    `json:"structured_content,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Message        string `json:"message,omitempty"`
	OutcomeUnknown bool   `json:"outcome_unknown,omitempty"`
	InvocationID   string `json:"invocation_id,omitempty"`
}

// Bridge relays between the engine and the invoker.
type Bridge struct {
	catalog Catalog
	invoker Invoker
	logger  *slog.Logger
}

// New creates a bridge.
func New(catalog Catalog, invoker Invoker, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		catalog: catalog,
		invoker: invoker,
		logger:  toolhublog.WithComponent(logger, "chatbridge"),
	}
}

// ToolsForEngine renders the catalog as function declarations, in catalog
// order. Tools without a usable schema get an empty object schema.
func (b *Bridge) ToolsForEngine() []FunctionDeclaration {
	tools := b.catalog.AllTools()
	out := make([]FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		desc := t.Description
		if desc == "" {
			desc = t.OriginalName + " (from " + t.ServerID + ")"
		}
		out = append(out, FunctionDeclaration{
			Name:        t.Name,
			Description: desc,
			Parameters:  parameters(t.InputSchema),
		})
	}
	return out
}

func parameters(schema json.RawMessage) map[string]any {
	var params map[string]any
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &params); err != nil {
			params = nil
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	if params["type"] == "object" {
		if _, ok := params["properties"]; !ok {
			params["properties"] = map[string]any{}
		}
	}
	return params
}

// InvokeFromEngine runs a call and always returns a well-formed result.
func (b *Bridge) InvokeFromEngine(ctx context.Context, call ToolCall) ToolResult {
	res := ToolResult{ToolCallID: call.ID, Name: call.Name}

	args, err := parseArguments(call.Arguments)
	if err != nil {
		b.logger.Warn("engine sent malformed tool arguments", toolhublog.ToolKey, call.Name, toolhublog.Error(err))
		env := Envelope{
			Status:    StatusFailed,
			ErrorKind: ErrorKindInvalidArguments,
			Message:   "arguments must be a JSON object: " + err.Error(),
		}
		if out, _ := b.invoker.Reject(ctx, call.Name, err); out != nil {
			env.InvocationID = out.Record.ID
		}
		return b.wrap(res, env)
	}

	out, err := b.invoker.Invoke(ctx, call.Name, args)
	if err == nil {
		env := Envelope{Status: StatusOK, InvocationID: out.Record.ID}
		if out.Result != nil {
			env.Content = renderContent(out.Result.Content)
			env.Structured = out.Result.StructuredContent
		}
		return b.wrap(res, env)
	}

	kind := mcp.KindOf(err)
	env := Envelope{
		Status:    StatusFailed,
		ErrorKind: string(kind),
		Message:   err.Error(),
	}
	if out != nil {
		env.OutcomeUnknown = out.Record.OutcomeUnknown
		env.InvocationID = out.Record.ID
	}
	switch kind {
	case mcp.ErrorKindNotFound, mcp.ErrorKindTransport, mcp.ErrorKindRateLimited:
		env.Status = StatusUnavailable
	}
	return b.wrap(res, env)
}

func (b *Bridge) wrap(res ToolResult, env Envelope) ToolResult {
	data, err := json.Marshal(env)
	if err != nil {
		env = Envelope{Status: StatusFailed, ErrorKind: "encoding", Message: err.Error()}
		data, _ = json.Marshal(env)
	}
	res.Content = string(data)
	res.IsError = env.Status != StatusOK
	return res
}

func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// renderContent flattens a single text item to a string and keeps anything
// else as a list of items.
func renderContent(items []transport.ContentItem) any {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 && items[0].Type == "text" {
		return items[0].Text
	}
	out := make([]map[string]any, len(items))
	for i, c := range items {
		item := map[string]any{"type": c.Type}
		if c.Text != "" {
			item["text"] = c.Text
		}
		if c.Data != "" {
			item["data"] = c.Data
		}
		if c.MimeType != "" {
			item["mimeType"] = c.MimeType
		}
		if c.URI != "" {
			item["uri"] = c.URI
		}
		out[i] = item
	}
	return out
}
