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

package servers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

type addOptions struct {
	name         string
	description  string
	transport    string
	command      string
	args         []string
	env          []string
	url          string
	protocol     string
	headers      []string
	capabilities []string
	priority     int
	tags         []string
	disabled     bool
	timeout      time.Duration
	rateLimit    float64
	connect      bool
}

func newAddCommand() *cobra.Command {
	opts := &addOptions{}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a new server",
		Long: `Register a new tool server.

Process servers are started by toolhub and spoken to over stdio.
Network servers are reached over HTTP.

Examples:
  # A local process server
  toolhub servers add files --command npx --arg -y --arg @modelcontextprotocol/server-filesystem --arg /tmp

  # A remote server with an auth header, connected straight away
  toolhub servers add search --transport network --url https://mcp.example.com/mcp \
    --header "Authorization=Bearer $TOKEN" --priority 10 --connect`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(args[0])
			if err != nil {
				return err
			}

			path := "/v1/servers"
			if opts.connect {
				path += "?connect=true"
			}
			data, err := shared.NewClient().Post(cmd.Context(), path, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var v api.ServerView
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			fmt.Fprintf(out, "Registered server: %s (%s)\n", v.Config.ID, v.Status.State)
			if v.Status.LastError != "" {
				fmt.Fprintf(out, "  Last error: %s\n", v.Status.LastError)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "Display name (defaults to the id)")
	f.StringVar(&opts.description, "description", "", "Free-form description")
	f.StringVar(&opts.transport, "transport", "", "Transport kind: process or network (inferred from --command or --url)")
	f.StringVar(&opts.command, "command", "", "Command to run (process transport)")
	f.StringArrayVar(&opts.args, "arg", nil, "Command argument (repeatable)")
	f.StringArrayVar(&opts.env, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	f.StringVar(&opts.url, "url", "", "Endpoint URL (network transport)")
	f.StringVar(&opts.protocol, "protocol", "", "Network protocol: streamable-http or sse")
	f.StringArrayVar(&opts.headers, "header", nil, "HTTP header NAME=VALUE (repeatable)")
	f.StringSliceVar(&opts.capabilities, "capability", []string{"tools"}, "Declared capabilities: tools, resources, prompts")
	f.IntVar(&opts.priority, "priority", 0, "Resolution priority for unqualified tool names (higher wins)")
	f.StringSliceVar(&opts.tags, "tag", nil, "Tag (repeatable)")
	f.BoolVar(&opts.disabled, "disabled", false, "Register without enabling")
	f.DurationVar(&opts.timeout, "timeout", 0, "Per-call timeout (defaults to the server-wide call timeout)")
	f.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum calls per second (0 means unlimited)")
	f.BoolVar(&opts.connect, "connect", false, "Connect immediately after registering")

	_ = cmd.RegisterFlagCompletionFunc("transport", completion.CompleteTransports)
	_ = cmd.RegisterFlagCompletionFunc("capability", completion.CompleteCapabilities)

	return cmd
}

// config builds the server config the flags describe.
func (o *addOptions) config(id string) (mcp.ServerConfig, error) {
	kind := mcp.TransportKind(o.transport)
	if kind == "" {
		switch {
		case o.command != "" && o.url == "":
			kind = mcp.TransportProcess
		case o.url != "" && o.command == "":
			kind = mcp.TransportNetwork
		default:
			return mcp.ServerConfig{}, shared.NewInvalidArgsError("exactly one of --command or --url is required (or set --transport)", nil)
		}
	}

	caps, err := parseCapabilities(o.capabilities)
	if err != nil {
		return mcp.ServerConfig{}, err
	}

	var headers map[string]string
	for _, h := range o.headers {
		k, v, ok := strings.Cut(h, "=")
		if !ok {
			k, v, ok = strings.Cut(h, ":")
		}
		if !ok || strings.TrimSpace(k) == "" {
			return mcp.ServerConfig{}, shared.NewInvalidArgsError(fmt.Sprintf("header %q must be NAME=VALUE", h), nil)
		}
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return mcp.ServerConfig{
		ID:           id,
		Name:         o.name,
		Description:  o.description,
		Transport:    kind,
		Command:      o.command,
		Args:         o.args,
		Env:          o.env,
		URL:          o.url,
		Protocol:     o.protocol,
		Headers:      headers,
		Capabilities: caps,
		Priority:     o.priority,
		Tags:         o.tags,
		Enabled:      !o.disabled,
		Timeout:      o.timeout,
		RateLimit:    o.rateLimit,
	}, nil
}

func parseCapabilities(names []string) (mcp.Capabilities, error) {
	var caps mcp.Capabilities
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "tools":
			caps.Tools = true
		case "resources":
			caps.Resources = true
		case "prompts":
			caps.Prompts = true
		case "":
		default:
			return caps, shared.NewInvalidArgsError(fmt.Sprintf("unknown capability %q (use tools, resources, or prompts)", n), nil)
		}
	}
	return caps, nil
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a server",
		Long: `Remove a registered server. An active connection is closed first.

Examples:
  toolhub servers remove files`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := shared.NewClient().Delete(cmd.Context(), "/v1/servers/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed server: %s\n", args[0])
			return nil
		},
	}
}

func newEnableCommand() *cobra.Command {
	return newToggleCommand("enable", "Enable a server", true)
}

func newDisableCommand() *cobra.Command {
	return newToggleCommand("disable", "Disable a server and drop its connection", false)
}

func newToggleCommand(use, short string, enabled bool) *cobra.Command {
	past := use + "d"

	return &cobra.Command{
		Use:               use + " <id>",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Patch(cmd.Context(), "/v1/servers/"+url.PathEscape(args[0]),
				mcp.ServerPatch{Enabled: &enabled})
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), data)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server %s: %s\n", past, args[0])
			return nil
		},
	}
}
