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
	"fmt"
	"log/slog"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	toolhublog "github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp/transport"
)

// TransportHooks are wired into every transport the manager creates.
type TransportHooks struct {
	Stderr         func(line string)
	OnNotification transport.NotificationHandler
}

// TransportFactory builds an unstarted transport for a server.
type TransportFactory func(cfg ServerConfig, hooks TransportHooks) (transport.Transport, error)

// TransportOptions are shared by every transport a factory builds.
type TransportOptions struct {
	// StartupDelay applies to process transports.
	StartupDelay time.Duration

	// ShutdownGrace applies to process transports.
	ShutdownGrace time.Duration

	// ClientInfo is sent in the handshake.
	ClientInfo mcpgo.Implementation

	Logger *slog.Logger
}

// NewTransportFactory returns the factory that maps a transport kind to
// its implementation.
func NewTransportFactory(opts TransportOptions) TransportFactory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(cfg ServerConfig, hooks TransportHooks) (transport.Transport, error) {
		tlog := toolhublog.WithServer(logger, cfg.ID)

		switch cfg.Transport {
		case TransportProcess:
			return transport.NewProcess(transport.ProcessOptions{
				Command:        cfg.Command,
				Args:           cfg.Args,
				Env:            cfg.Env,
				StartupDelay:   opts.StartupDelay,
				ShutdownGrace:  opts.ShutdownGrace,
				Stderr:         hooks.Stderr,
				OnNotification: hooks.OnNotification,
				ClientInfo:     opts.ClientInfo,
				Logger:         tlog,
			}), nil
		case TransportNetwork:
			return transport.NewNetwork(transport.NetworkOptions{
				URL:            cfg.URL,
				Protocol:       cfg.Protocol,
				Headers:        cfg.Headers,
				OnNotification: hooks.OnNotification,
				ClientInfo:     opts.ClientInfo,
				Logger:         tlog,
			}), nil
		default:
			return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
		}
	}
}
