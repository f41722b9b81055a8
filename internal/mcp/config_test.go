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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ServerConfig
		wantField string
		wantIn    string
	}{
		{
			name: "valid process",
			cfg:  ServerConfig{ID: "files", Transport: TransportProcess, Command: "files-server", Args: []string{"--root", "/srv"}, Env: []string{"TOKEN=${FILES_TOKEN}"}},
		},
		{
			name: "valid network",
			cfg:  ServerConfig{ID: "web", Transport: TransportNetwork, URL: "https://tools.example.com/mcp", Protocol: "sse"},
		},
		{
			name:      "missing id",
			cfg:       ServerConfig{Transport: TransportProcess, Command: "x"},
			wantField: "id",
			wantIn:    "server id is required",
		},
		{
			name:      "bad id",
			cfg:       ServerConfig{ID: "1abc", Transport: TransportProcess, Command: "x"},
			wantField: "id",
		},
		{
			name:      "id with separator",
			cfg:       ServerConfig{ID: "a__b", Transport: TransportProcess, Command: "x"},
			wantField: "id",
			wantIn:    "must not contain",
		},
		{
			name:      "process without command",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess},
			wantField: "command",
		},
		{
			name:      "process with url",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess, Command: "x", URL: "http://h"},
			wantField: "url",
		},
		{
			name:      "shell injection in args",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess, Command: "x", Args: []string{"$(rm -rf /)"}},
			wantField: "args",
			wantIn:    "unsafe pattern",
		},
		{
			name:      "malformed env",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess, Command: "x", Env: []string{"NOVALUE"}},
			wantField: "env",
		},
		{
			name:      "network without url",
			cfg:       ServerConfig{ID: "a", Transport: TransportNetwork},
			wantField: "url",
		},
		{
			name:      "network bad scheme",
			cfg:       ServerConfig{ID: "a", Transport: TransportNetwork, URL: "ftp://host"},
			wantField: "url",
			wantIn:    "scheme",
		},
		{
			name:      "network unknown protocol",
			cfg:       ServerConfig{ID: "a", Transport: TransportNetwork, URL: "http://host", Protocol: "websocket"},
			wantField: "protocol",
		},
		{
			name:      "missing transport",
			cfg:       ServerConfig{ID: "a"},
			wantField: "transport",
		},
		{
			name:      "negative timeout",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess, Command: "x", Timeout: -time.Second},
			wantField: "timeout",
		},
		{
			name:      "negative rate limit",
			cfg:       ServerConfig{ID: "a", Transport: TransportProcess, Command: "x", RateLimit: -1},
			wantField: "rate_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, ErrorCodeValidation, cfgErr.Code)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			if tt.wantIn != "" {
				assert.Contains(t, err.Error(), tt.wantIn)
			}
		})
	}
}

func TestServerConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := ServerConfig{ID: "", Transport: TransportNetwork, URL: "", Command: "oops"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server id is required")
	assert.Contains(t, err.Error(), "url is required")
	assert.Contains(t, err.Error(), "command is only valid")
}

func TestServerConfig_Redacted(t *testing.T) {
	cfg := ServerConfig{
		ID:      "a",
		Env:     []string{"API_TOKEN=abc", "MODE=fast"},
		Headers: map[string]string{"Authorization": "Bearer x", "X-Team": "infra"},
	}
	red := cfg.Redacted()

	assert.Equal(t, []string{"API_TOKEN=***REDACTED***", "MODE=fast"}, red.Env)
	assert.Equal(t, "***REDACTED***", red.Headers["Authorization"])
	assert.Equal(t, "infra", red.Headers["X-Team"])
	assert.Equal(t, "API_TOKEN=abc", cfg.Env[0], "original must be untouched")
}

func TestSortServers(t *testing.T) {
	cfgs := []ServerConfig{{ID: "c"}, {ID: "b", Priority: 2}, {ID: "a"}}
	SortServers(cfgs)
	assert.Equal(t, "b", cfgs[0].ID)
	assert.Equal(t, "a", cfgs[1].ID)
	assert.Equal(t, "c", cfgs[2].ID)
}

func TestServerPatch_Apply(t *testing.T) {
	cfg := ServerConfig{ID: "a", Name: "A", Priority: 1, Args: []string{"x"}, Enabled: true}
	name := "renamed"
	enabled := false
	args := []string{"y", "z"}

	out := ServerPatch{Name: &name, Enabled: &enabled, Args: &args}.Apply(cfg)
	assert.Equal(t, "renamed", out.Name)
	assert.False(t, out.Enabled)
	assert.Equal(t, []string{"y", "z"}, out.Args)
	assert.Equal(t, 1, out.Priority)
	assert.Equal(t, "A", cfg.Name)

	args[0] = "mutated"
	assert.Equal(t, "y", out.Args[0])
}

func TestChangedFields(t *testing.T) {
	a := ServerConfig{ID: "a", Name: "A", Tags: nil, CreatedAt: time.Now()}
	b := a
	b.Tags = []string{}
	b.UpdatedAt = time.Now()
	assert.Empty(t, changedFields(a, b))

	b.Priority = 3
	b.Headers = map[string]string{"k": "v"}
	assert.Equal(t, []string{"headers", "priority"}, changedFields(a, b))
}
