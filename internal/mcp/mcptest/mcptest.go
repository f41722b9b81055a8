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

// Package mcptest provides real MCP tool servers for tests: in-process
// servers built with mcp-go, and a helper mode that re-executes the test
// binary as a child process speaking MCP over stdio.
package mcptest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	helperEnv = "TOOLHUB_WANT_HELPER_PROCESS"
	modeEnv   = "TOOLHUB_HELPER_MODE"
	toolsEnv  = "TOOLHUB_HELPER_TOOLS"
)

// Helper process modes.
const (
	// ModeMCP serves NewServer over stdio.
	ModeMCP = "mcp"
	// ModeRaw answers with a minimal hand-written JSON-RPC loop. Every
	// tools/call is preceded by a response carrying an unknown id, and the
	// "slow" tool answers after SlowDelay.
	ModeRaw = "raw"
	// ModeStubborn completes the handshake, then ignores SIGTERM and stdin EOF.
	ModeStubborn = "stubborn"
	// ModeCrash exits with status 3 immediately.
	ModeCrash = "crash"
	// ModeExitAfterInit exits with status 2 shortly after the handshake.
	ModeExitAfterInit = "exit-after-init"
)

// SlowDelay is how long the raw helper's "slow" tool takes to answer.
const SlowDelay = 300 * time.Millisecond

// StrayID is the id of the unsolicited response the raw helper emits.
const StrayID = 424242

// Process describes how to spawn the helper in a given mode.
type Process struct {
	Command string
	Args    []string
	Env     []string
}

// HelperProcess returns the command line that re-executes the current test
// binary as a tool server. tools, when given, replaces the default tool set
// of ModeMCP with echo tools of those names.
func HelperProcess(mode string, tools ...string) Process {
	env := []string{helperEnv + "=1", modeEnv + "=" + mode}
	if len(tools) > 0 {
		data, _ := json.Marshal(tools)
		env = append(env, toolsEnv+"="+string(data))
	}
	return Process{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     env,
	}
}

// RunHelperIfRequested turns the process into a tool server when it was
// started by HelperProcess. Call it first thing in TestMain.
func RunHelperIfRequested() {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	switch os.Getenv(modeEnv) {
	case ModeMCP:
		var names []string
		if raw := os.Getenv(toolsEnv); raw != "" {
			_ = json.Unmarshal([]byte(raw), &names)
		}
		var s *server.MCPServer
		if len(names) > 0 {
			s = NewNamedServer("helper", names...)
		} else {
			s = NewServer("helper")
		}
		if err := server.ServeStdio(s); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case ModeRaw:
		serveRaw(false, 0)
	case ModeStubborn:
		signal.Ignore(syscall.SIGTERM)
		serveRaw(true, 0)
	case ModeExitAfterInit:
		serveRaw(false, 200*time.Millisecond)
	case ModeCrash:
		fmt.Fprintln(os.Stderr, "crashing on purpose")
		os.Exit(3)
	}
	os.Exit(0)
}

// NewServer returns an MCP server with the standard test tools:
//   - echo(text): returns text
//   - fail(): returns a tool error result
//   - slow(): answers after SlowDelay
//
// and a single text resource.
func NewServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the given text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to echo")),
	), echoHandler(name))

	s.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always fails"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("failed on purpose"), nil
	})

	s.AddTool(mcp.NewTool("slow",
		mcp.WithDescription("Answers slowly"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-time.After(SlowDelay):
		case <-ctx.Done():
		}
		return mcp.NewToolResultText("done"), nil
	})

	s.AddResource(mcp.NewResource("file:///notes.txt", "notes",
		mcp.WithResourceDescription("Test notes"),
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "notes"},
		}, nil
	})

	return s
}

// AddExplodingTool registers "explode", whose handler returns a Go error so
// the server answers with a JSON-RPC error response instead of a result.
func AddExplodingTool(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("explode",
		mcp.WithDescription("Returns a handler error"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("tool exploded")
	})
}

// NewNamedServer returns an MCP server whose tools are echo tools with the
// given names. Each answers "<server>:<text>".
func NewNamedServer(name string, tools ...string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	for _, tool := range tools {
		s.AddTool(mcp.NewTool(tool,
			mcp.WithDescription(tool+" on "+name),
			mcp.WithString("text", mcp.Description("Text to echo")),
		), echoHandler(name))
	}
	return s
}

func echoHandler(serverName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(serverName + ":" + req.GetString("text", "")), nil
	}
}

// NewHTTPServer serves s over streamable HTTP. Callers must Close it.
func NewHTTPServer(s *server.MCPServer) *httptest.Server {
	return httptest.NewServer(server.NewStreamableHTTPServer(s))
}

type rawFrame struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// serveRaw is a minimal JSON-RPC responder. With stubborn set it keeps
// running after stdin closes. exitAfter > 0 exits that long after the
// initialized notification.
func serveRaw(stubborn bool, exitAfter time.Duration) {
	var mu sync.Mutex
	out := json.NewEncoder(os.Stdout)
	send := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		_ = out.Encode(v)
	}
	result := func(id json.RawMessage, v any) {
		send(map[string]any{"jsonrpc": "2.0", "id": id, "result": v})
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var f rawFrame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}

		switch f.Method {
		case "initialize":
			result(f.ID, map[string]any{
				"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "raw", "version": "0.0.1"},
			})
		case "notifications/initialized":
			if exitAfter > 0 {
				go func() {
					time.Sleep(exitAfter)
					os.Exit(2)
				}()
			}
		case "tools/list":
			result(f.ID, map[string]any{"tools": []map[string]any{
				{"name": "slow", "inputSchema": map[string]any{"type": "object"}},
				{"name": "quick", "inputSchema": map[string]any{"type": "object"}},
			}})
		case "tools/call":
			send(map[string]any{"jsonrpc": "2.0", "id": StrayID, "result": map[string]any{}})
			go func(f rawFrame) {
				if f.Params.Name == "slow" {
					time.Sleep(SlowDelay)
				}
				result(f.ID, map[string]any{
					"content": []map[string]any{{"type": "text", "text": f.Params.Name + " done"}},
				})
			}(f)
		case "ping":
			result(f.ID, map[string]any{})
		default:
			if len(f.ID) > 0 {
				send(map[string]any{"jsonrpc": "2.0", "id": f.ID,
					"error": map[string]any{"code": -32601, "message": "method not found"}})
			}
		}
	}

	for stubborn {
		time.Sleep(time.Hour)
	}
}
