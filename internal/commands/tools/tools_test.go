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

package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/chatbridge"
	"github.com/tombee/toolhub/internal/commands/cmdtest"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

func TestTools(t *testing.T) {
	env := cmdtest.Start(t)

	out, err := env.Run(t, NewToolsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No tools available.")

	env.ConnectWeb(t)

	out, err = env.Run(t, NewToolsCommand())
	require.NoError(t, err)
	for _, name := range []string{"NAME", "echo", "fail", "slow", "Echo the given text"} {
		assert.Contains(t, out, name)
	}

	out, err = env.Run(t, NewToolsCommand(), "--server", "web", "--json")
	require.NoError(t, err)
	resp := decode[api.ToolListResponse](t, out)
	assert.Len(t, resp.Tools, 3)

	out, err = env.Run(t, NewToolsCommand(), "--engine")
	require.NoError(t, err)
	engine := decode[api.EngineToolsResponse](t, out)
	assert.Len(t, engine.Functions, 3)
}

func TestResources(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	out, err := env.Run(t, NewResourcesCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "file:///notes.txt")
	assert.Contains(t, out, "text/plain")
}

func TestInvoke(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	out, err := env.Run(t, NewInvokeCommand(), "echo", "--arg", "text=hello")
	require.NoError(t, err)
	assert.Contains(t, out, "web:hello")
	assert.Contains(t, out, "echo via web")

	out, err = env.Run(t, NewInvokeCommand(), "echo", "--args", `{"text":"json"}`, "--json")
	require.NoError(t, err)
	res := decode[mcp.InvocationResult](t, out)
	assert.True(t, res.Record.Success)
	assert.Equal(t, "web:json", res.Result.Text())
}

func TestInvoke_Failures(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{name: "unknown tool", args: []string{"nope"}, code: shared.ExitNotFound},
		{name: "tool error", args: []string{"fail"}, code: shared.ExitFailed},
		{name: "bad json", args: []string{"echo", "--args", "{"}, code: shared.ExitInvalidArgs},
		{name: "bad pair", args: []string{"echo", "--arg", "novalue"}, code: shared.ExitInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Run(t, NewInvokeCommand(), tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, shared.ExitCode(err))
		})
	}
}

func TestInvoke_JSONFailureCarriesRecord(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	out, err := env.Run(t, NewInvokeCommand(), "fail", "--json")
	require.Error(t, err)

	body := decode[api.ErrorResponse](t, out)
	require.NotNil(t, body.Record)
	assert.Equal(t, mcp.ErrorKindTool, body.Record.ErrorKind)
	assert.Equal(t, "web", body.Record.ServerID)
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		pairs []string
		want  map[string]any
	}{
		{name: "none", want: nil},
		{name: "json", raw: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{name: "pairs keep types", pairs: []string{"n=3", "b=true", "s=word"}, want: map[string]any{"n": float64(3), "b": true, "s": "word"}},
		{name: "pairs override json", raw: `{"a":1}`, pairs: []string{"a=2"}, want: map[string]any{"a": float64(2)}},
		{name: "value with equals", pairs: []string{"q=a=b"}, want: map[string]any{"q": "a=b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArguments(tt.raw, tt.pairs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCall(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	out, err := env.Run(t, NewCallCommand(), "echo", "--args", `{"text":"hi"}`)
	require.NoError(t, err)
	envlp := decode[chatbridge.Envelope](t, out)
	assert.Equal(t, chatbridge.StatusOK, envlp.Status)
	assert.Equal(t, "web:hi", envlp.Content)

	out, err = env.Run(t, NewCallCommand(), "nope")
	require.Error(t, err)
	envlp = decode[chatbridge.Envelope](t, out)
	assert.Equal(t, chatbridge.StatusUnavailable, envlp.Status)
	assert.Equal(t, string(mcp.ErrorKindNotFound), envlp.ErrorKind)
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}
