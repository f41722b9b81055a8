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

package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/chatbridge"
	"github.com/tombee/toolhub/internal/config"
	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/mcp/mcptest"
	"github.com/tombee/toolhub/internal/store/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Health.Interval = time.Hour
	cfg.Manager.HandshakeTimeout = 5 * time.Second
	return cfg
}

func newTestHub(t *testing.T, cfg *config.Config) *Hub {
	t.Helper()
	h, err := New(context.Background(), cfg, Options{
		Version:  "test",
		Logger:   toolhublog.Discard(),
		Store:    memory.New(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Close(ctx)
	})
	return h
}

func writeServersFile(t *testing.T, servers ...string) string {
	t.Helper()
	content := "servers:\n"
	for _, s := range servers {
		content += s
	}
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func networkEntry(id, url string) string {
	return fmt.Sprintf("  - id: %s\n    transport: network\n    url: %s\n    capabilities:\n      tools: true\n", id, url)
}

func state(t *testing.T, h *Hub, id string) mcp.State {
	t.Helper()
	st, ok := h.Manager.State(id)
	require.True(t, ok, "server %s not tracked", id)
	return st.State
}

func TestHub_StartSyncsAndConnects(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("web"))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.ServersFile = writeServersFile(t, networkEntry("web", srv.URL))
	h := newTestHub(t, cfg)

	require.NoError(t, h.Start(context.Background(), StartOptions{AutoConnect: true}))

	assert.Equal(t, mcp.StateConnected, state(t, h, "web"))

	res := h.Bridge.InvokeFromEngine(context.Background(), chatbridge.ToolCall{
		ID: "call-1", Name: "echo", Arguments: `{"text":"hi"}`,
	})
	assert.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content, "web:hi")

	recs, err := h.Store.ListInvocations(context.Background(), mcp.InvocationFilter{ServerID: "web"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestHub_StartWithoutAutoConnect(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("web"))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.ServersFile = writeServersFile(t,
		networkEntry("web", srv.URL),
		"  - id: off\n    transport: network\n    url: http://127.0.0.1:1\n    enabled: false\n",
	)
	h := newTestHub(t, cfg)

	require.NoError(t, h.Start(context.Background(), StartOptions{}))

	assert.Equal(t, mcp.StateDisconnected, state(t, h, "web"))
	assert.Equal(t, mcp.StateDisabled, state(t, h, "off"))
	assert.Empty(t, h.Manager.Catalog().AllTools())
}

func TestHub_StartTwice(t *testing.T) {
	h := newTestHub(t, testConfig(t))
	require.NoError(t, h.Start(context.Background(), StartOptions{}))
	assert.Error(t, h.Start(context.Background(), StartOptions{}))
}

func TestHub_StartMissingServersFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ServersFile = filepath.Join(t.TempDir(), "missing.yaml")
	h := newTestHub(t, cfg)
	assert.Error(t, h.Start(context.Background(), StartOptions{}))
}

func TestHub_ApplyServersConnectsNewServers(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewNamedServer("late", "ping"))
	defer srv.Close()

	h := newTestHub(t, testConfig(t))
	require.NoError(t, h.Start(context.Background(), StartOptions{AutoConnect: true}))

	err := h.ApplyServers(context.Background(), []mcp.ServerConfig{{
		ID:           "late",
		Transport:    mcp.TransportNetwork,
		URL:          srv.URL,
		Capabilities: mcp.Capabilities{Tools: true},
		Enabled:      true,
	}})
	require.NoError(t, err)

	assert.Equal(t, mcp.StateConnected, state(t, h, "late"))
	_, ok := h.Manager.Catalog().Resolve("ping")
	assert.True(t, ok)
}

func TestHub_ApplyServersReportsFailures(t *testing.T) {
	h := newTestHub(t, testConfig(t))
	require.NoError(t, h.Start(context.Background(), StartOptions{}))

	err := h.ApplyServers(context.Background(), []mcp.ServerConfig{{ID: "bad", Transport: mcp.TransportProcess}})
	assert.Error(t, err)
}

func TestHub_SQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "toolhub.db")

	h, err := New(context.Background(), cfg, Options{Logger: toolhublog.Discard(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	_, err = h.Registry.Create(context.Background(), mcp.ServerConfig{
		ID: "web", Transport: mcp.TransportNetwork, URL: "http://127.0.0.1:1/mcp",
	})
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))

	h, err = New(context.Background(), cfg, Options{Logger: toolhublog.Discard(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer h.Close(context.Background())

	got, err := h.Registry.Get(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)
}

func TestHub_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "postgres"
	_, err := New(context.Background(), cfg, Options{Logger: toolhublog.Discard()})
	assert.Error(t, err)
}
