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

package status

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/cmdtest"
	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
)

func TestStatus(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	_, err := env.Hub.Invoker.Invoke(context.Background(), "echo", map[string]any{"text": "x"})
	require.NoError(t, err)

	out, err := env.Run(t, NewStatusCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "toolhub test")
	assert.Contains(t, out, "1 registered, 1 enabled, 1 connected, 0 in error")
	assert.Contains(t, out, "3 tools, 1 resources")
	assert.Contains(t, out, "web")

	out, err = env.Run(t, NewStatusCommand(), "--json")
	require.NoError(t, err)
	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.PerServer, 1)
	assert.Equal(t, int64(1), resp.PerServer[0].Metrics.TotalRequests)
}

func TestHistory(t *testing.T) {
	env := cmdtest.Start(t)

	out, err := env.Run(t, NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No invocations recorded.")

	env.ConnectWeb(t)
	ctx := context.Background()
	_, err = env.Hub.Invoker.Invoke(ctx, "echo", map[string]any{"text": "x"})
	require.NoError(t, err)
	_, err = env.Hub.Invoker.Invoke(ctx, "fail", nil)
	require.Error(t, err)

	out, err = env.Run(t, NewHistoryCommand(), "--server", "web", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "fail")
	assert.Contains(t, out, string(mcp.ErrorKindTool))
}

func TestAudit(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)

	out, err := env.Run(t, NewAuditCommand(), "--server", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "web")
	assert.Contains(t, out, string(mcp.AuditCreate))
}

func TestFindings(t *testing.T) {
	env := cmdtest.Start(t)

	out, err := env.Run(t, NewFindingsCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No findings.")

	require.NoError(t, env.Hub.Store.AppendFinding(context.Background(), health.Finding{
		ID:        "f1",
		ServerID:  "web",
		Rule:      "high-error-rate",
		Severity:  health.SeverityHigh,
		Message:   "error rate 50%",
		Timestamp: time.Now(),
	}))

	out, err = env.Run(t, NewFindingsCommand(), "--server", "web")
	require.NoError(t, err)
	assert.Contains(t, out, "high-error-rate")
	assert.Contains(t, out, "error rate 50%")
}

func TestWatch(t *testing.T) {
	env := cmdtest.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var (
		out    string
		runErr error
	)
	go func() {
		defer close(done)
		out, runErr = env.RunContext(ctx, t, NewWatchCommand())
	}()

	// Give the stream time to subscribe before producing events.
	time.Sleep(200 * time.Millisecond)
	env.ConnectWeb(t)
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	require.NoError(t, runErr)
	assert.Contains(t, out, "web")
}

func TestFollow(t *testing.T) {
	stream := strings.Join([]string{
		": connected",
		"",
		"event: server.connected",
		`data: {"type":"server.connected","server_id":"a","timestamp":"2025-01-01T00:00:00Z"}`,
		"",
		": heartbeat",
		"data: not json",
		`data: {"type":"catalog.changed","server_id":"b","timestamp":"2025-01-01T00:00:01Z"}`,
	}, "\n")

	var got []string
	err := follow(strings.NewReader(stream), func(ev mcp.Event) error {
		got = append(got, ev.ServerID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	stop := errors.New("stop")
	err = follow(strings.NewReader(stream), func(mcp.Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}
