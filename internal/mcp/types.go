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
	"encoding/json"
	"time"
)

// TransportKind selects how a tool server is reached.
type TransportKind string

const (
	// TransportProcess spawns the server as a child process and speaks over stdio.
	TransportProcess TransportKind = "process"
	// TransportNetwork reaches the server over HTTP.
	TransportNetwork TransportKind = "network"
)

// Capabilities lists what a server is expected to expose. Discovery also
// honours whatever the server advertises in its handshake.
type Capabilities struct {
	Tools     bool `json:"tools" yaml:"tools"`
	Resources bool `json:"resources" yaml:"resources"`
	Prompts   bool `json:"prompts" yaml:"prompts"`
}

// ServerConfig describes one registered tool server.
type ServerConfig struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Transport   TransportKind `json:"transport" yaml:"transport"`

	// Process transport.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Env     []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Network transport.
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Protocol string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`

	// Priority decides which server answers an unqualified tool name shared
	// by several servers. Higher wins.
	Priority int      `json:"priority" yaml:"priority"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`

	// Timeout bounds each tool call. Zero uses the invoker default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RateLimit caps tool calls per second. Zero is unlimited.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	out.Args = append([]string(nil), c.Args...)
	out.Env = append([]string(nil), c.Env...)
	out.Tags = append([]string(nil), c.Tags...)
	if c.Headers != nil {
		out.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// ServerPatch is a partial update. Nil fields are left unchanged.
type ServerPatch struct {
	Name         *string            `json:"name,omitempty"`
	Description  *string            `json:"description,omitempty"`
	Transport    *TransportKind     `json:"transport,omitempty"`
	Command      *string            `json:"command,omitempty"`
	Args         *[]string          `json:"args,omitempty"`
	Env          *[]string          `json:"env,omitempty"`
	URL          *string            `json:"url,omitempty"`
	Protocol     *string            `json:"protocol,omitempty"`
	Headers      *map[string]string `json:"headers,omitempty"`
	Capabilities *Capabilities      `json:"capabilities,omitempty"`
	Priority     *int               `json:"priority,omitempty"`
	Tags         *[]string          `json:"tags,omitempty"`
	Enabled      *bool              `json:"enabled,omitempty"`
	Timeout      *time.Duration     `json:"timeout,omitempty"`
	RateLimit    *float64           `json:"rate_limit,omitempty"`
}

// Apply returns cfg with the patch applied.
func (p ServerPatch) Apply(cfg ServerConfig) ServerConfig {
	out := cfg.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Transport != nil {
		out.Transport = *p.Transport
	}
	if p.Command != nil {
		out.Command = *p.Command
	}
	if p.Args != nil {
		out.Args = append([]string(nil), (*p.Args)...)
	}
	if p.Env != nil {
		out.Env = append([]string(nil), (*p.Env)...)
	}
	if p.URL != nil {
		out.URL = *p.URL
	}
	if p.Protocol != nil {
		out.Protocol = *p.Protocol
	}
	if p.Headers != nil {
		out.Headers = *p.Headers
	}
	if p.Capabilities != nil {
		out.Capabilities = *p.Capabilities
	}
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Timeout != nil {
		out.Timeout = *p.Timeout
	}
	if p.RateLimit != nil {
		out.RateLimit = *p.RateLimit
	}
	return out
}

// State is a connection lifecycle state.
type State string

const (
	StateDisabled     State = "disabled"
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Active reports whether a connection attempt or session is in progress.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected
}

// ServerInfo is what the server reported about itself during the handshake.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
}

// ConnectionState is the runtime status of one server.
type ConnectionState struct {
	ServerID       string      `json:"server_id"`
	State          State       `json:"state"`
	LastError      string      `json:"last_error,omitempty"`
	ToolsCount     int         `json:"tools_count"`
	ResourcesCount int         `json:"resources_count"`
	ConnectedAt    *time.Time  `json:"connected_at,omitempty"`
	LastProbeAt    *time.Time  `json:"last_probe_at,omitempty"`
	ServerInfo     *ServerInfo `json:"server_info,omitempty"`
}

// ToolDescriptor is a tool as exposed by the catalog.
type ToolDescriptor struct {
	// Name is how callers address the tool: the tool's own name, or
	// QualifiedName when another connected server exposes the same name.
	Name string `json:"name"`

	// OriginalName is the name the server reported.
	OriginalName string `json:"original_name"`

	// QualifiedName always resolves to this server's tool.
	QualifiedName string `json:"qualified_name"`

	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	ServerID    string          `json:"server_id"`
}

// ResourceDescriptor is a resource as exposed by the catalog.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	ServerID    string `json:"server_id"`
}

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindTransport        ErrorKind = "transport"
	ErrorKindTool             ErrorKind = "tool"
	ErrorKindRateLimited      ErrorKind = "rate_limited"
	ErrorKindInvalidArguments ErrorKind = "invalid_arguments"
)

// InvocationRecord is the immutable log entry for one invocation attempt.
type InvocationRecord struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// ServerID is empty when the tool name did not resolve.
	ServerID  string    `json:"server_id,omitempty"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`

	// OutcomeUnknown marks timeouts: the server may still have acted.
	OutcomeUnknown bool `json:"outcome_unknown,omitempty"`
}

// MetricsAggregate summarises invocations for one server.
type MetricsAggregate struct {
	ServerID         string        `json:"server_id"`
	TotalRequests    int64         `json:"total_requests"`
	Successes        int64         `json:"successes"`
	Failures         int64         `json:"failures"`
	AverageLatencyMs float64       `json:"average_latency_ms"`
	Window           time.Duration `json:"window"`
}

// ErrorRate is failures over total requests, or 0 with no requests.
func (m MetricsAggregate) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.Failures) / float64(m.TotalRequests)
}
