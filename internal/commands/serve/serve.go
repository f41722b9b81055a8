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

// Package serve implements 'toolhub serve', which runs the hub and its
// HTTP control surface in the foreground.
package serve

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/hub"
	toolhublog "github.com/tombee/toolhub/internal/log"
)

type options struct {
	listen        string
	serversFile   string
	watch         bool
	memory        bool
	noAutoConnect bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run toolhub in the foreground",
		Long: `Run the hub: load registered servers, connect the enabled ones,
start the health monitor, and serve the HTTP control surface.

Stop with Ctrl-C or SIGTERM; connections are closed gracefully.

Examples:
  toolhub serve
  toolhub serve --listen 127.0.0.1:9000 --servers-file servers.yaml --watch
  toolhub serve --memory --no-autoconnect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.listen, "listen", "", "Control surface address (overrides config)")
	f.StringVar(&opts.serversFile, "servers-file", "", "Servers file to reconcile at startup (overrides config)")
	f.BoolVar(&opts.watch, "watch", false, "Reload the servers file when it changes")
	f.BoolVar(&opts.memory, "memory", false, "Keep state in memory instead of the database")
	f.BoolVar(&opts.noAutoConnect, "no-autoconnect", false, "Do not connect enabled servers at startup")

	return cmd
}

func (o *options) apply(cfg *config.Config) error {
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.serversFile != "" {
		cfg.ServersFile = o.serversFile
	}
	if o.watch {
		cfg.WatchServersFile = true
	}
	if o.memory {
		cfg.Storage.Backend = config.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return shared.NewInvalidArgsError("invalid configuration", err)
	}
	return nil
}

// loggerConfig builds logging from the config file. TOOLHUB_DEBUG still
// forces debug output.
func loggerConfig(cmd *cobra.Command, cfg *config.Config) *toolhublog.Config {
	lc := &toolhublog.Config{
		Level:     cfg.Log.Level,
		Format:    toolhublog.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
		Output:    cmd.ErrOrStderr(),
	}
	if debug := os.Getenv("TOOLHUB_DEBUG"); debug == "true" || debug == "1" {
		lc.Level = "debug"
		lc.AddSource = true
	}
	return lc
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	logger := toolhublog.New(loggerConfig(cmd, cfg))
	version, _, _ := shared.GetVersion()

	h, err := hub.New(ctx, cfg, hub.Options{Version: version, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialise hub: %w", err)
	}
	defer func() {
		if err := h.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown incomplete", toolhublog.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return &shared.ExitError{Code: shared.ExitFailed, Message: "failed to listen on " + cfg.Listen, Cause: err}
	}

	if err := h.Start(ctx, hub.StartOptions{AutoConnect: !opts.noAutoConnect}); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "toolhub listening on http://%s\n", ln.Addr().String())

	return api.New(h, logger).Serve(ctx, ln, cfg.Manager.ShutdownGrace)
}
