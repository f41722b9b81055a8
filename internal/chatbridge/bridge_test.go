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

package chatbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

type fakeCatalog []mcp.ToolDescriptor

func (c fakeCatalog) AllTools() []mcp.ToolDescriptor { return c }

type fakeInvoker struct {
	calls    int
	gotArg   map[string]any
	result   *mcp.InvocationResult
	err      error
	rejected []string
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, args map[string]any) (*mcp.InvocationResult, error) {
	f.calls++
	f.gotArg = args
	return f.result, f.err
}

func (f *fakeInvoker) Reject(_ context.Context, name string, cause error) (*mcp.InvocationResult, error) {
	f.rejected = append(f.rejected, name)
	rec := mcp.InvocationRecord{ID: "rejected-" + name, ToolName: name, ErrorKind: mcp.ErrorKindInvalidArguments}
	return &mcp.InvocationResult{Record: rec}, mcp.NewInvocationError(mcp.ErrorKindInvalidArguments, "", name, cause)
}

func decode(t *testing.T, res ToolResult) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(res.Content), &env))
	return env
}

func TestToolsForEngine(t *testing.T) {
	cat := fakeCatalog{
		{Name: "search", OriginalName: "search", ServerID: "web", Description: "Search the web",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)},
		{Name: "fs__read", OriginalName: "read", ServerID: "fs"},
		{Name: "broken", OriginalName: "broken", ServerID: "fs", InputSchema: json.RawMessage(`{not json`)},
	}
	b := New(cat, &fakeInvoker{}, toolhublog.Discard())

	decls := b.ToolsForEngine()
	require.Len(t, decls, 3)

	assert.Equal(t, "search", decls[0].Name)
	assert.Equal(t, "Search the web", decls[0].Description)
	assert.Equal(t, []any{"q"}, decls[0].Parameters["required"])

	assert.Equal(t, "fs__read", decls[1].Name)
	assert.Equal(t, "read (from fs)", decls[1].Description)
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, decls[1].Parameters)

	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, decls[2].Parameters)
}

func TestToolsForEngine_Empty(t *testing.T) {
	b := New(fakeCatalog{}, &fakeInvoker{}, nil)
	decls := b.ToolsForEngine()
	assert.NotNil(t, decls)
	assert.Empty(t, decls)
}

func TestInvokeFromEngine_Success(t *testing.T) {
	inv := &fakeInvoker{result: &mcp.InvocationResult{
		Record: mcp.InvocationRecord{ID: "rec-1", Success: true},
		Result: &transport.ToolResult{Content: []transport.ContentItem{{Type: "text", Text: "42"}}},
	}}
	b := New(fakeCatalog{}, inv, toolhublog.Discard())

	res := b.InvokeFromEngine(context.Background(), ToolCall{ID: "call-1", Name: "calc", Arguments: `{"expr":"6*7"}`})

	assert.Equal(t, "call-1", res.ToolCallID)
	assert.Equal(t, "calc", res.Name)
	assert.False(t, res.IsError)
	assert.Equal(t, map[string]any{"expr": "6*7"}, inv.gotArg)

	env := decode(t, res)
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, "42", env.Content)
	assert.Equal(t, "rec-1", env.InvocationID)
}

func TestInvokeFromEngine_MultipleContentItems(t *testing.T) {
	inv := &fakeInvoker{result: &mcp.InvocationResult{
		Record: mcp.InvocationRecord{ID: "rec-2", Success: true},
		Result: &transport.ToolResult{
			Content: []transport.ContentItem{
				{Type: "text", Text: "see image"},
				{Type: "image", Data: "aGk=", MimeType: "image/png"},
			},
			StructuredContent: map[string]any{"n": 1},
		},
	}}
	b := New(fakeCatalog{}, inv, toolhublog.Discard())

	res := b.InvokeFromEngine(context.Background(), ToolCall{ID: "c", Name: "snap"})
	require.False(t, res.IsError)

	env := decode(t, res)
	items, ok := env.Content.([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, map[string]any{"type": "image", "data": "aGk=", "mimeType": "image/png"}, items[1])
	assert.Equal(t, map[string]any{"n": float64(1)}, env.Structured)
	assert.Nil(t, inv.gotArg)
}

func TestInvokeFromEngine_Failures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		record  mcp.InvocationRecord
		status  string
		kind    string
		unknown bool
	}{
		{
			name:   "unknown tool",
			err:    &mcp.ToolNotFoundError{Name: "nope"},
			status: StatusUnavailable,
			kind:   "not_found",
		},
		{
			name:   "transport",
			err:    mcp.NewInvocationError(mcp.ErrorKindTransport, "fs", "read", errors.New("broken pipe")),
			status: StatusUnavailable,
			kind:   "transport",
		},
		{
			name:   "rate limited",
			err:    mcp.NewInvocationError(mcp.ErrorKindRateLimited, "fs", "read", nil),
			status: StatusUnavailable,
			kind:   "rate_limited",
		},
		{
			name:   "tool error",
			err:    mcp.NewInvocationError(mcp.ErrorKindTool, "fs", "read", errors.New("no such file")),
			status: StatusFailed,
			kind:   "tool",
		},
		{
			name:    "timeout",
			err:     mcp.NewInvocationError(mcp.ErrorKindTimeout, "fs", "read", context.DeadlineExceeded),
			record:  mcp.InvocationRecord{ID: "rec-t", OutcomeUnknown: true},
			status:  StatusFailed,
			kind:    "timeout",
			unknown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{err: tt.err, result: &mcp.InvocationResult{Record: tt.record}}
			b := New(fakeCatalog{}, inv, toolhublog.Discard())

			res := b.InvokeFromEngine(context.Background(), ToolCall{ID: "c", Name: "read", Arguments: "{}"})

			assert.True(t, res.IsError)
			env := decode(t, res)
			assert.Equal(t, tt.status, env.Status)
			assert.Equal(t, tt.kind, env.ErrorKind)
			assert.Equal(t, tt.err.Error(), env.Message)
			assert.Equal(t, tt.unknown, env.OutcomeUnknown)
		})
	}
}

func TestInvokeFromEngine_NilResultOnError(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("boom")}
	b := New(fakeCatalog{}, inv, toolhublog.Discard())

	res := b.InvokeFromEngine(context.Background(), ToolCall{ID: "c", Name: "x"})
	assert.True(t, res.IsError)
	env := decode(t, res)
	assert.Equal(t, StatusUnavailable, env.Status)
	assert.Equal(t, "transport", env.ErrorKind)
}

func TestInvokeFromEngine_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"malformed", `{"a":`},
		{"array", `[1,2]`},
		{"scalar", `"text"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{}
			b := New(fakeCatalog{}, inv, toolhublog.Discard())

			res := b.InvokeFromEngine(context.Background(), ToolCall{ID: "c", Name: "x", Arguments: tt.args})

			assert.True(t, res.IsError)
			assert.Zero(t, inv.calls)
			assert.Equal(t, []string{"x"}, inv.rejected)
			env := decode(t, res)
			assert.Equal(t, StatusFailed, env.Status)
			assert.Equal(t, ErrorKindInvalidArguments, env.ErrorKind)
			assert.Equal(t, "rejected-x", env.InvocationID)
		})
	}
}
