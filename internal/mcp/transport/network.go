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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Network protocols understood by the network transport.
const (
	ProtocolStreamableHTTP = "streamable-http"
	ProtocolSSE            = "sse"
)

// NetworkOptions configures a network transport.
type NetworkOptions struct {
	// URL is the server endpoint.
	URL string

	// Protocol selects streamable HTTP (default) or SSE.
	Protocol string

	// Headers are sent with every request.
	Headers map[string]string

	// OnNotification receives server notifications (optional).
	OnNotification NotificationHandler

	// ClientInfo is sent in the handshake. Defaults to DefaultClientInfo.
	ClientInfo mcp.Implementation

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Network is a tool server reached over HTTP.
type Network struct {
	opts   NetworkOptions
	logger *slog.Logger

	client *client.Client

	// ctx outlives the handshake; long-lived streams are bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

var _ Transport = (*Network)(nil)

// NewNetwork creates a network transport. Nothing is dialed until Start.
func NewNetwork(opts NetworkOptions) *Network {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Protocol == "" {
		opts.Protocol = ProtocolStreamableHTTP
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (n *Network) Start(ctx context.Context) (*mcp.InitializeResult, error) {
	c, err := n.newClient()
	if err != nil {
		return nil, err
	}

	if err := c.Start(n.ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start %s transport: %w", n.opts.Protocol, err)
	}

	c.OnNotification(func(notification mcp.JSONRPCNotification) {
		if n.opts.OnNotification == nil {
			return
		}
		var params json.RawMessage
		if raw, err := json.Marshal(notification.Params); err == nil {
			params = raw
		}
		n.opts.OnNotification(notification.Method, params)
	})

	result, err := c.Initialize(ctx, mcp.InitializeRequest{Params: initializeParams(n.opts.ClientInfo)})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	n.client = c
	n.logger.Debug("connected to network tool server",
		"url", n.opts.URL,
		"protocol", n.opts.Protocol,
		"server", result.ServerInfo.Name,
	)
	return result, nil
}

func (n *Network) newClient() (*client.Client, error) {
	switch n.opts.Protocol {
	case ProtocolSSE:
		var opts []mcptransport.ClientOption
		if len(n.opts.Headers) > 0 {
			opts = append(opts, mcptransport.WithHeaders(n.opts.Headers))
		}
		c, err := client.NewSSEMCPClient(n.opts.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create sse client: %w", err)
		}
		return c, nil
	case ProtocolStreamableHTTP:
		var opts []mcptransport.StreamableHTTPCOption
		if len(n.opts.Headers) > 0 {
			opts = append(opts, mcptransport.WithHTTPHeaders(n.opts.Headers))
		}
		c, err := client.NewStreamableHttpClient(n.opts.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create streamable http client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported network protocol %q", n.opts.Protocol)
	}
}

func (n *Network) ListTools(ctx context.Context) ([]Tool, error) {
	c, err := n.live()
	if err != nil {
		return nil, err
	}

	var tools []Tool
	req := mcp.ListToolsRequest{}
	for {
		result, err := c.ListTools(ctx, req)
		if err != nil {
			return nil, rpcError(err)
		}
		for _, t := range result.Tools {
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: toolSchema(t),
			})
		}
		if result.NextCursor == "" || result.NextCursor == req.Params.Cursor {
			return tools, nil
		}
		req.Params.Cursor = result.NextCursor
	}
}

func (n *Network) ListResources(ctx context.Context) ([]Resource, error) {
	c, err := n.live()
	if err != nil {
		return nil, err
	}

	var resources []Resource
	req := mcp.ListResourcesRequest{}
	for {
		result, err := c.ListResources(ctx, req)
		if err != nil {
			return nil, rpcError(err)
		}
		for _, r := range result.Resources {
			resources = append(resources, Resource{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
			})
		}
		if result.NextCursor == "" || result.NextCursor == req.Params.Cursor {
			return resources, nil
		}
		req.Params.Cursor = result.NextCursor
	}
}

func (n *Network) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	c, err := n.live()
	if err != nil {
		return nil, err
	}

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return convertResult(result), nil
}

func (n *Network) Ping(ctx context.Context) error {
	c, err := n.live()
	if err != nil {
		return err
	}
	return rpcError(c.Ping(ctx))
}

var rpcSentinels = []struct {
	err  error
	code int
}{
	{mcp.ErrParseError, mcp.PARSE_ERROR},
	{mcp.ErrInvalidRequest, mcp.INVALID_REQUEST},
	{mcp.ErrMethodNotFound, mcp.METHOD_NOT_FOUND},
	{mcp.ErrInvalidParams, mcp.INVALID_PARAMS},
	{mcp.ErrInternalError, mcp.INTERNAL_ERROR},
	{mcp.ErrRequestInterrupted, mcp.REQUEST_INTERRUPTED},
	{mcp.ErrResourceNotFound, mcp.RESOURCE_NOT_FOUND},
}

// rpcError restores the *RPCError the mcp-go client flattened into a plain
// error. Failures to reach the server come back as *mcptransport.Error or a
// context error and pass through unchanged. The client drops the code of
// non-standard error responses, so those carry code 0.
func rpcError(err error) error {
	if err == nil {
		return nil
	}

	var terr *mcptransport.Error
	if errors.As(err, &terr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	for _, s := range rpcSentinels {
		if errors.Is(err, s.err) {
			msg := strings.TrimPrefix(err.Error(), s.err.Error()+": ")
			return &RPCError{Code: s.code, Message: msg}
		}
	}
	return &RPCError{Message: err.Error()}
}

func (n *Network) Close(ctx context.Context) error {
	var err error
	n.closeOnce.Do(func() {
		if n.client != nil {
			err = n.client.Close()
		}
		n.cancel()
		n.finish(ErrClosed)
	})
	return err
}

func (n *Network) Done() <-chan struct{} {
	return n.done
}

func (n *Network) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Fail ends the session with err. The manager calls it when a probe shows
// the endpoint is gone, since HTTP sessions have no process to watch.
func (n *Network) Fail(err error) {
	n.closeOnce.Do(func() {
		if n.client != nil {
			_ = n.client.Close()
		}
		n.cancel()
		n.finish(err)
	})
}

func (n *Network) live() (*client.Client, error) {
	select {
	case <-n.done:
		return nil, fmt.Errorf("%w: %v", ErrClosed, n.Err())
	default:
	}
	if n.client == nil {
		return nil, errors.New("transport not started")
	}
	return n.client, nil
}

func (n *Network) finish(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
		return
	default:
	}
	n.err = err
	close(n.done)
}

func toolSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return data
}

func convertResult(result *mcp.CallToolResult) *ToolResult {
	out := &ToolResult{
		IsError:           result.IsError,
		StructuredContent: result.StructuredContent,
		Content:           make([]ContentItem, 0, len(result.Content)),
	}

	for _, content := range result.Content {
		var item ContentItem
		if text, ok := mcp.AsTextContent(content); ok {
			item.Type = text.Type
			item.Text = text.Text
		} else if image, ok := mcp.AsImageContent(content); ok {
			item.Type = image.Type
			item.Data = image.Data
			item.MimeType = image.MIMEType
		} else if raw, err := json.Marshal(content); err == nil {
			_ = json.Unmarshal(raw, &item)
		}
		out.Content = append(out.Content, item)
	}
	return out
}
