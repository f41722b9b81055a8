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

// Package cmdtest runs CLI commands against an in-process hub.
package cmdtest

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/hub"
	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/mcp/mcptest"
	"github.com/tombee/toolhub/internal/store/memory"
)

// Env is a running hub with its control surface and one network tool
// server ("web", tools echo/fail/slow) that is not yet registered.
type Env struct {
	Hub  *hub.Hub
	URL  string
	Tool *httptest.Server
}

// Start brings up an Env torn down at test cleanup.
func Start(t *testing.T) *Env {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Health.Interval = time.Hour
	cfg.Manager.HandshakeTimeout = 5 * time.Second

	h, err := hub.New(context.Background(), cfg, hub.Options{
		Version:  "test",
		Logger:   toolhublog.Discard(),
		Store:    memory.New(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background(), hub.StartOptions{}))

	srv := httptest.NewServer(api.New(h, toolhublog.Discard(), api.WithHeartbeat(50*time.Millisecond)).Handler())
	tool := mcptest.NewHTTPServer(mcptest.NewServer("web"))

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Close(ctx)
		tool.Close()
	})

	return &Env{Hub: h, URL: srv.URL, Tool: tool}
}

// Web is the config registering the Env's tool server.
func (e *Env) Web() mcp.ServerConfig {
	return mcp.ServerConfig{
		ID:           "web",
		Transport:    mcp.TransportNetwork,
		URL:          e.Tool.URL,
		Capabilities: mcp.Capabilities{Tools: true, Resources: true},
		Enabled:      true,
	}
}

// ConnectWeb registers and connects the tool server directly on the hub.
func (e *Env) ConnectWeb(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.Hub.Registry.Create(ctx, e.Web())
	require.NoError(t, err)
	require.NoError(t, e.Hub.Manager.Connect(ctx, "web"))
}

// Run executes cmd under a root carrying the global flags, pointed at the
// Env, and returns what it wrote to stdout.
func (e *Env) Run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return Run(t, cmd, append(args, "--addr", e.URL)...)
}

// RunContext is Run with a caller-controlled context.
func (e *Env) RunContext(ctx context.Context, t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return RunContext(ctx, t, cmd, append(args, "--addr", e.URL)...)
}

// Run executes cmd under a root carrying the global flags.
func Run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	return RunContext(context.Background(), t, cmd, args...)
}

// RunContext executes cmd with ctx under a root carrying the global flags.
func RunContext(ctx context.Context, t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	root := &cobra.Command{Use: "toolhub", SilenceUsage: true, SilenceErrors: true}
	jsonOut, configPath, addr := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonOut, "json", false, "")
	root.PersistentFlags().StringVar(configPath, "config", "", "")
	root.PersistentFlags().StringVar(addr, "addr", "", "")
	root.AddCommand(cmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)

	root.SetArgs(append([]string{cmd.Name()}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}
