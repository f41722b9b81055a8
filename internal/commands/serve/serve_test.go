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

package serve

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/commands/cmdtest"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, k := range []string{"TOOLHUB_LISTEN", "TOOLHUB_DB", "TOOLHUB_STORAGE", "TOOLHUB_SERVERS_FILE", "TOOLHUB_DEBUG", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestOptionsApply(t *testing.T) {
	isolate(t)

	cfg := config.Default()
	opts := &options{listen: "127.0.0.1:0", serversFile: "/tmp/servers.yaml", watch: true, memory: true}
	require.NoError(t, opts.apply(cfg))

	assert.Equal(t, "127.0.0.1:0", cfg.Listen)
	assert.Equal(t, "/tmp/servers.yaml", cfg.ServersFile)
	assert.True(t, cfg.WatchServersFile)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)

	bad := &options{listen: "nope"}
	err := bad.apply(config.Default())
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidArgs, shared.ExitCode(err))
}

func TestLoggerConfig(t *testing.T) {
	isolate(t)
	cmd := &cobra.Command{}

	cfg := config.Default()
	cfg.Log.Level = "warn"
	assert.Equal(t, "warn", loggerConfig(cmd, cfg).Level)

	t.Setenv("TOOLHUB_DEBUG", "1")
	lc := loggerConfig(cmd, cfg)
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.AddSource)
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	isolate(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := cmdtest.RunContext(ctx, t, NewServeCommand(), "--memory", "--listen", "127.0.0.1:0", "--no-autoconnect")
		done <- result{out, err}
	}()

	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Contains(t, res.out, "toolhub listening on http://127.0.0.1:")
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestServe_BadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: nope\n"), 0o600))

	_, err := cmdtest.Run(t, NewServeCommand(), "--config", path)
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidArgs, shared.ExitCode(err))
	assert.True(t, strings.Contains(err.Error(), "listen"), err.Error())
}
