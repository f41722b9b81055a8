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

package mcp_test

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/mcp/mcptest"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

func TestManager_ConnectProcessServer(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, helperServer("helper", mcptest.ModeMCP))
	events, cancel := h.bus.Subscribe(32)
	defer cancel()

	assert.Equal(t, mcp.StateDisconnected, h.state(t, "helper").State)

	require.NoError(t, h.manager.Connect(context.Background(), "helper"))

	st := h.state(t, "helper")
	assert.Equal(t, mcp.StateConnected, st.State)
	assert.Equal(t, 3, st.ToolsCount)
	assert.Equal(t, 1, st.ResourcesCount)
	require.NotNil(t, st.ServerInfo)
	assert.Equal(t, "helper", st.ServerInfo.Name)
	require.NotNil(t, st.ConnectedAt)

	names := []string{}
	for _, d := range h.manager.Catalog().AllTools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"echo", "fail", "slow"}, names)
	assert.Len(t, h.manager.Catalog().ResourcesForServer("helper"), 1)

	waitFor(t, events, mcp.EventConnecting, "helper")
	waitFor(t, events, mcp.EventConnected, "helper")

	transitions, err := h.store.ListConnectionEvents(context.Background(), "helper", 0)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, mcp.StateConnected, transitions[0].To)
	assert.Equal(t, mcp.StateConnecting, transitions[1].To)

	// A second connect is a no-op.
	require.NoError(t, h.manager.Connect(context.Background(), "helper"))
	assert.Equal(t, mcp.StateConnected, h.state(t, "helper").State)
}

func TestManager_DisconnectRemovesToolsAndIsIdempotent(t *testing.T) {
	procs := make(chan *transport.Process, 4)
	h := newHarness(t, processCapture(procs))
	h.register(t, helperServer("helper", mcptest.ModeMCP))
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "helper"))
	require.NotEmpty(t, h.manager.Catalog().AllTools())
	proc := <-procs
	pid := proc.PID()
	require.NotZero(t, pid)
	require.True(t, processRunning(pid))

	require.NoError(t, h.manager.Disconnect(ctx, "helper"))
	st := h.state(t, "helper")
	assert.Equal(t, mcp.StateDisconnected, st.State)
	assert.Zero(t, st.ToolsCount)
	assert.Empty(t, h.manager.Catalog().AllTools())
	assert.Eventually(t, func() bool { return !processRunning(pid) }, 3*time.Second, 20*time.Millisecond,
		"server process %d still running after disconnect", pid)

	require.NoError(t, h.manager.Disconnect(ctx, "helper"))
	require.NoError(t, h.manager.Disconnect(ctx, "never-registered"))

	// Reconnecting after a disconnect works.
	require.NoError(t, h.manager.Connect(ctx, "helper"))
	assert.Equal(t, mcp.StateConnected, h.state(t, "helper").State)
}

func TestManager_ConnectFailures(t *testing.T) {
	tests := []struct {
		name string
		cfg  mcp.ServerConfig
	}{
		{
			name: "missing command",
			cfg: mcp.ServerConfig{
				ID:        "missing",
				Transport: mcp.TransportProcess,
				Command:   "/nonexistent/toolhub-test-server",
				Enabled:   true,
			},
		},
		{
			name: "crash before handshake",
			cfg:  helperServer("crash", mcptest.ModeCrash),
		},
		{
			name: "unreachable network server",
			cfg: mcp.ServerConfig{
				ID:        "unreachable",
				Transport: mcp.TransportNetwork,
				URL:       "http://127.0.0.1:1/mcp",
				Enabled:   true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.register(t, tt.cfg)
			events, cancel := h.bus.Subscribe(32)
			defer cancel()

			err := h.manager.Connect(context.Background(), tt.cfg.ID)
			require.Error(t, err)
			assert.True(t, mcp.IsConnectionError(err))
			assert.Equal(t, mcp.ErrorCodeHandshakeFailed, mcp.CodeOf(err))

			st := h.state(t, tt.cfg.ID)
			assert.Equal(t, mcp.StateError, st.State)
			assert.NotEmpty(t, st.LastError)
			assert.Empty(t, h.manager.Catalog().ToolsForServer(tt.cfg.ID))

			waitFor(t, events, mcp.EventFailed, tt.cfg.ID)
		})
	}
}

func TestManager_ConnectToSilentWrapperIsBounded(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	h := newHarnessWithTimeout(t, nil, time.Second)
	h.register(t, mcp.ServerConfig{
		ID:        "silent",
		Transport: mcp.TransportProcess,
		Command:   sh,
		Args:      []string{"-c", "sleep 8; true"},
		Enabled:   true,
	})

	start := time.Now()
	err = h.manager.Connect(context.Background(), "silent")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 4*time.Second, "connect outlived the handshake timeout")
	assert.Equal(t, mcp.StateError, h.state(t, "silent").State)
}

func TestManager_CapturesStderr(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, helperServer("crash", mcptest.ModeCrash))

	require.Error(t, h.manager.Connect(context.Background(), "crash"))
	require.Eventually(t, func() bool {
		for _, e := range h.manager.Logs("crash", 0) {
			if e.Line == "crashing on purpose" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_DisabledServer(t *testing.T) {
	h := newHarness(t, nil)
	cfg := helperServer("off", mcptest.ModeMCP)
	cfg.Enabled = false
	h.register(t, cfg)

	assert.Equal(t, mcp.StateDisabled, h.state(t, "off").State)

	err := h.manager.Connect(context.Background(), "off")
	require.Error(t, err)
	assert.Equal(t, mcp.ErrorCodeDisabled, mcp.CodeOf(err))
	assert.Equal(t, mcp.StateDisabled, h.state(t, "off").State)
}

func TestManager_ConnectUnknownServer(t *testing.T) {
	h := newHarness(t, nil)
	err := h.manager.Connect(context.Background(), "ghost")
	assert.Equal(t, mcp.ErrorCodeNotFound, mcp.CodeOf(err))
}

func TestManager_UnexpectedExitMovesToError(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, helperServer("flaky", mcptest.ModeExitAfterInit))
	events, cancel := h.bus.Subscribe(32)
	defer cancel()

	require.NoError(t, h.manager.Connect(context.Background(), "flaky"))
	require.NotEmpty(t, h.manager.Catalog().ToolsForServer("flaky"))

	waitFor(t, events, mcp.EventFailed, "flaky")
	st := h.state(t, "flaky")
	assert.Equal(t, mcp.StateError, st.State)
	assert.Empty(t, h.manager.Catalog().ToolsForServer("flaky"))

	_, err := h.manager.CallTool(context.Background(), "flaky", "quick", nil)
	assert.Equal(t, mcp.ErrorCodeNotConnected, mcp.CodeOf(err))
}

func TestManager_ConcurrentConnectsShareOneSession(t *testing.T) {
	ff := newFakeFactory()
	ff.add("a", func() *fakeTransport { return newFakeTransport("x") })
	h := newHarness(t, ff.factory())
	h.register(t, fakeServer("a", 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.manager.Connect(context.Background(), "a"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ff.count("a"))
	assert.Equal(t, mcp.StateConnected, h.state(t, "a").State)
}

func TestManager_DiscoveryFailures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(f *fakeTransport)
		requireRes    bool
		wantConnected bool
	}{
		{
			name:  "tool listing fails",
			setup: func(f *fakeTransport) { f.toolsErr = errors.New("tools/list exploded") },
		},
		{
			name: "optional resources fail",
			setup: func(f *fakeTransport) {
				f.advertiseResources = true
				f.resErr = errors.New("no resources")
			},
			wantConnected: true,
		},
		{
			name:       "required resources fail",
			setup:      func(f *fakeTransport) { f.resErr = errors.New("no resources") },
			requireRes: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ff := newFakeFactory()
			ff.add("a", func() *fakeTransport {
				f := newFakeTransport("x")
				tt.setup(f)
				return f
			})
			h := newHarness(t, ff.factory())
			cfg := fakeServer("a", 0)
			cfg.Capabilities.Resources = tt.requireRes
			h.register(t, cfg)

			err := h.manager.Connect(context.Background(), "a")
			if tt.wantConnected {
				require.NoError(t, err)
				assert.Equal(t, mcp.StateConnected, h.state(t, "a").State)
				return
			}
			require.Error(t, err)
			assert.Equal(t, mcp.ErrorCodeDiscoveryFailed, mcp.CodeOf(err))
			assert.Equal(t, mcp.StateError, h.state(t, "a").State)
			assert.Equal(t, 1, ff.transport("a").closeCount(), "transport must be released")
		})
	}
}

func TestManager_ToolListChangedRefreshesCatalog(t *testing.T) {
	ff := newFakeFactory()
	ff.add("a", func() *fakeTransport { return newFakeTransport("one") })
	h := newHarness(t, ff.factory())
	h.register(t, fakeServer("a", 0))
	events, cancel := h.bus.Subscribe(32)
	defer cancel()

	require.NoError(t, h.manager.Connect(context.Background(), "a"))
	f := ff.transport("a")
	f.setTools("one", "two")
	f.hooks.OnNotification("notifications/tools/list_changed", nil)

	waitFor(t, events, mcp.EventToolsChanged, "a")
	_, ok := h.manager.Catalog().Resolve("two")
	assert.True(t, ok)
	assert.Equal(t, 2, h.state(t, "a").ToolsCount)
}

func TestManager_NetworkServersWithCollidingTools(t *testing.T) {
	alpha := mcptest.NewHTTPServer(mcptest.NewNamedServer("alpha", "search", "only_alpha"))
	defer alpha.Close()
	beta := mcptest.NewHTTPServer(mcptest.NewNamedServer("beta", "search"))
	defer beta.Close()

	h := newHarness(t, nil)
	for id, url := range map[string]string{"alpha": alpha.URL, "beta": beta.URL} {
		priority := 0
		if id == "beta" {
			priority = 10
		}
		h.register(t, mcp.ServerConfig{
			ID:           id,
			Transport:    mcp.TransportNetwork,
			URL:          url,
			Capabilities: mcp.Capabilities{Tools: true},
			Priority:     priority,
			Enabled:      true,
		})
	}

	h.manager.ConnectAll(context.Background(), []string{"alpha", "beta"})
	require.Equal(t, mcp.StateConnected, h.state(t, "alpha").State)
	require.Equal(t, mcp.StateConnected, h.state(t, "beta").State)

	names := []string{}
	for _, d := range h.manager.Catalog().AllTools() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha__search", "beta__search", "only_alpha"}, names)

	res, err := h.invoker.Invoke(context.Background(), "search", map[string]any{"text": "q"})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Record.ServerID)
	assert.Equal(t, "beta:q", res.Result.Text())

	res, err = h.invoker.Invoke(context.Background(), "alpha__search", map[string]any{"text": "q"})
	require.NoError(t, err)
	assert.Equal(t, "alpha:q", res.Result.Text())

	require.NoError(t, h.manager.Probe(context.Background(), "alpha"))
	assert.NotNil(t, h.state(t, "alpha").LastProbeAt)
}

func TestManager_ProbeFailureEndsNetworkSession(t *testing.T) {
	srv := mcptest.NewHTTPServer(mcptest.NewServer("web"))
	h := newHarness(t, nil)
	h.register(t, mcp.ServerConfig{
		ID:           "web",
		Transport:    mcp.TransportNetwork,
		URL:          srv.URL,
		Capabilities: mcp.Capabilities{Tools: true},
		Enabled:      true,
	})
	require.NoError(t, h.manager.Connect(context.Background(), "web"))

	srv.Close()
	require.Error(t, h.manager.Probe(context.Background(), "web"))
	require.Eventually(t, func() bool {
		return h.state(t, "web").State == mcp.StateError
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_CrashedFakeSessionEndsInError(t *testing.T) {
	ff := newFakeFactory()
	ff.add("a", func() *fakeTransport { return newFakeTransport("x") })
	h := newHarness(t, ff.factory())
	h.register(t, fakeServer("a", 0))

	require.NoError(t, h.manager.Connect(context.Background(), "a"))
	ff.transport("a").crash(errors.New("process exited: exit status 1"))

	require.Eventually(t, func() bool {
		return h.state(t, "a").State == mcp.StateError
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, h.state(t, "a").LastError, "exit status 1")
	_, ok := h.manager.Catalog().Resolve("x")
	assert.False(t, ok)
}

func TestManager_CloseDisconnectsEverything(t *testing.T) {
	ff := newFakeFactory()
	ff.add("a", func() *fakeTransport { return newFakeTransport("x") })
	ff.add("b", func() *fakeTransport { return newFakeTransport("y") })
	h := newHarness(t, ff.factory())
	h.register(t, fakeServer("a", 0))
	h.register(t, fakeServer("b", 0))
	h.manager.ConnectAll(context.Background(), []string{"a", "b"})

	require.NoError(t, h.manager.Close(context.Background()))
	for _, st := range h.manager.States() {
		assert.Equal(t, mcp.StateDisconnected, st.State, st.ServerID)
	}
	assert.Equal(t, 1, ff.transport("a").closeCount())
	assert.Empty(t, h.manager.Catalog().AllTools())
}

func TestManager_SessionConfigIsSnapshot(t *testing.T) {
	ff := newFakeFactory()
	ff.add("a", func() *fakeTransport { return newFakeTransport("x") })
	h := newHarness(t, ff.factory())
	h.register(t, fakeServer("a", 0))
	require.NoError(t, h.manager.Connect(context.Background(), "a"))

	timeout := 5 * time.Second
	_, err := h.registry.Update(context.Background(), "a", mcp.ServerPatch{Timeout: &timeout})
	require.NoError(t, err)

	cfg, ok := h.manager.SessionConfig("a")
	require.True(t, ok)
	assert.Zero(t, cfg.Timeout, "running session keeps the config it connected with")
}

var _ transport.Transport = (*fakeTransport)(nil)
