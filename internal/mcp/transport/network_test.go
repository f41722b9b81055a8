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

package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp/mcptest"
)

func TestNetwork_StreamableHTTP(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("remote"))
	defer srv.Close()

	n := NewNetwork(NetworkOptions{
		URL:     srv.URL,
		Headers: map[string]string{"X-Test": "1"},
	})
	defer n.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handshake, err := n.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "remote", handshake.ServerInfo.Name)

	tools, err := n.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 3)
	for _, tool := range tools {
		assert.NotEmpty(t, tool.InputSchema, "tool %s has no schema", tool.Name)
	}

	resources, err := n.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "text/plain", resources[0].MIMEType)

	result, err := n.CallTool(ctx, "echo", map[string]any{"text": "over http"})
	require.NoError(t, err)
	assert.Equal(t, "remote:over http", result.Text())

	result, err = n.CallTool(ctx, "fail", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	require.NoError(t, n.Ping(ctx))
}

func TestNetwork_ErrorResponsesAreRPCErrors(t *testing.T) {
	s := mcptest.NewServer("remote")
	mcptest.AddExplodingTool(s)
	srv := mcptest.NewHTTPServer(s)
	defer srv.Close()

	n := NewNetwork(NetworkOptions{URL: srv.URL})
	defer n.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := n.Start(ctx)
	require.NoError(t, err)

	_, err = n.CallTool(ctx, "explode", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcp.INTERNAL_ERROR, rpcErr.Code)
	assert.Equal(t, "tool exploded", rpcErr.Message)

	_, err = n.CallTool(ctx, "no-such-tool", nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, mcp.INVALID_PARAMS, rpcErr.Code)
}

func TestNetwork_LostServerIsNotAnRPCError(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("remote"))

	n := NewNetwork(NetworkOptions{URL: srv.URL})
	defer n.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := n.Start(ctx)
	require.NoError(t, err)

	srv.Close()

	_, err = n.CallTool(ctx, "echo", map[string]any{"text": "gone"})
	require.Error(t, err)
	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr), "unexpected rpc error: %v", err)
}

func TestRPCError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantRPC bool
		code    int
		message string
	}{
		{name: "nil", err: nil},
		{name: "transport failure", err: mcptransport.NewError(errors.New("connection refused"))},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded)},
		{name: "canceled", err: context.Canceled},
		{
			name:    "sentinel with message",
			err:     fmt.Errorf("%w: %s", mcp.ErrInternalError, "disk full"),
			wantRPC: true,
			code:    mcp.INTERNAL_ERROR,
			message: "disk full",
		},
		{
			name:    "bare sentinel",
			err:     mcp.ErrMethodNotFound,
			wantRPC: true,
			code:    mcp.METHOD_NOT_FOUND,
			message: "method not found",
		},
		{
			name:    "non-standard code",
			err:     errors.New("quota exceeded"),
			wantRPC: true,
			message: "quota exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rpcError(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}

			var rpcErr *RPCError
			if !tt.wantRPC {
				assert.False(t, errors.As(got, &rpcErr))
				assert.Same(t, tt.err, got)
				return
			}
			require.ErrorAs(t, got, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
			assert.Equal(t, tt.message, rpcErr.Message)
		})
	}
}

func TestNetwork_CloseEndsSession(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("remote"))
	defer srv.Close()

	n := NewNetwork(NetworkOptions{URL: srv.URL})
	_, err := n.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, n.Close(context.Background()))
	<-n.Done()
	assert.ErrorIs(t, n.Err(), ErrClosed)

	_, err = n.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNetwork_FailEndsSessionWithCause(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("remote"))
	defer srv.Close()

	n := NewNetwork(NetworkOptions{URL: srv.URL})
	_, err := n.Start(context.Background())
	require.NoError(t, err)

	n.Fail(assert.AnError)
	<-n.Done()
	assert.ErrorIs(t, n.Err(), assert.AnError)
}

func TestNetwork_UnsupportedProtocol(t *testing.T) {
	n := NewNetwork(NetworkOptions{URL: "http://127.0.0.1:1", Protocol: "carrier-pigeon"})
	_, err := n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported network protocol")
}

func TestNetwork_UnreachableEndpoint(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("remote"))
	url := srv.URL
	srv.Close()

	n := NewNetwork(NetworkOptions{URL: url})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := n.Start(ctx)
	require.Error(t, err)
}

func TestConvertResult(t *testing.T) {
	result := convertResult(&mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("a"),
			mcp.NewImageContent("ZGF0YQ==", "image/png"),
		},
	})

	require.Len(t, result.Content, 2)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "a", result.Content[0].Text)
	assert.Equal(t, "image", result.Content[1].Type)
	assert.Equal(t, "image/png", result.Content[1].MimeType)
	assert.Equal(t, "a", result.Text())
}
