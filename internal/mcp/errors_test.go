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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp/transport"
)

func TestMCPError_Rendering(t *testing.T) {
	cause := errors.New("exec: not found")
	err := NewConnectionError(ErrorCodeStartFailed, "files", "cannot start server", cause)
	err.WithDetail("command files-server").WithSuggestions("Check the command path")

	assert.Equal(t, "cannot start server: command files-server: exec: not found", err.Error())
	assert.ErrorIs(t, err, cause)

	verbose := err.Verbose()
	assert.Contains(t, verbose, "Error: cannot start server")
	assert.Contains(t, verbose, "Suggestions:")
	assert.Contains(t, verbose, "- Check the command path")
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not found", ErrServerNotFound("a"), ErrorCodeNotFound},
		{"exists", ErrServerExists("a"), ErrorCodeAlreadyExists},
		{"disabled", ErrServerDisabled("a"), ErrorCodeDisabled},
		{"not connected", ErrNotConnected("a"), ErrorCodeNotConnected},
		{"tool not found", &ToolNotFoundError{Name: "x"}, ErrorCodeToolNotFound},
		{"wrapped", fmt.Errorf("outer: %w", ErrServerNotFound("a")), ErrorCodeNotFound},
		{"plain", errors.New("boom"), ErrorCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsConfigError(ErrServerNotFound("a")))
	assert.False(t, IsConfigError(ErrNotConnected("a")))
	assert.True(t, IsConnectionError(ErrServerDisabled("a")))
	assert.True(t, IsToolNotFound(fmt.Errorf("x: %w", &ToolNotFoundError{Name: "t"})))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result *transport.ToolResult
		err    error
		want   ErrorKind
	}{
		{name: "success", result: &transport.ToolResult{}, want: ErrorKindNone},
		{name: "tool result error", result: &transport.ToolResult{IsError: true, Content: []transport.ContentItem{{Type: "text", Text: "bad input"}}}, want: ErrorKindTool},
		{name: "rpc error", err: &transport.RPCError{Code: -32602, Message: "invalid params"}, want: ErrorKindTool},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ErrorKindTimeout},
		{name: "closed", err: transport.ErrClosed, want: ErrorKindTransport},
		{name: "other", err: errors.New("broken pipe"), want: ErrorKindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("srv", "tool", tt.result, tt.err)
			assert.Equal(t, tt.want, KindOf(err))
			if tt.want == ErrorKindNone {
				assert.NoError(t, err)
				return
			}
			var inv *InvocationError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, "srv", inv.ServerID)
			assert.Equal(t, "tool", inv.Tool)
		})
	}

	err := classify("srv", "tool", &transport.ToolResult{IsError: true, Content: []transport.ContentItem{{Type: "text", Text: "bad input"}}}, nil)
	assert.Contains(t, err.Error(), "bad input")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKindNone, KindOf(nil))
	assert.Equal(t, ErrorKindNotFound, KindOf(&ToolNotFoundError{Name: "x"}))
	assert.Equal(t, ErrorKindRateLimited, KindOf(NewInvocationError(ErrorKindRateLimited, "a", "t", nil)))
	assert.Equal(t, ErrorKindTransport, KindOf(errors.New("x")))
}
