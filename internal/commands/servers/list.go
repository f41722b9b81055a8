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
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

func newListCommand() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		Long: `List every registered server with its connection state.

Examples:
  toolhub servers list
  toolhub servers list --state error
  toolhub servers list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/servers"
			if state != "" {
				path += "?state=" + url.QueryEscape(state)
			}

			data, err := shared.NewClient().Get(cmd.Context(), path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp api.ServerListResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Servers) == 0 {
				fmt.Fprintln(out, "No servers registered.")
				fmt.Fprintln(out, "\nRegister one with: toolhub servers add <id> --command <cmd>")
				return nil
			}

			table := shared.NewTable(out, "ID", "TRANSPORT", "STATE", "TOOLS", "PRIORITY", "ENABLED")
			for _, v := range resp.Servers {
				table.Row(
					v.Config.ID,
					string(v.Config.Transport),
					string(v.Status.State),
					strconv.Itoa(v.Status.ToolsCount),
					strconv.Itoa(v.Config.Priority),
					strconv.FormatBool(v.Config.Enabled),
				)
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only list servers in this state (disconnected, connecting, connected, error, disabled)")
	_ = cmd.RegisterFlagCompletionFunc("state", completion.CompleteStates)

	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "get <id>",
		Short:             "Show a server's configuration and status",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Get(cmd.Context(), "/v1/servers/"+url.PathEscape(args[0]))
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
			printServer(out, v)
			return nil
		},
	}
}

func printServer(w io.Writer, v api.ServerView) {
	c := v.Config
	fmt.Fprintf(w, "Server: %s\n", c.ID)
	if c.Name != "" && c.Name != c.ID {
		fmt.Fprintf(w, "  Name:        %s\n", c.Name)
	}
	if c.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", c.Description)
	}
	fmt.Fprintf(w, "  Transport:   %s\n", c.Transport)
	switch c.Transport {
	case mcp.TransportProcess:
		fmt.Fprintf(w, "  Command:     %s\n", strings.TrimSpace(c.Command+" "+strings.Join(c.Args, " ")))
	case mcp.TransportNetwork:
		fmt.Fprintf(w, "  URL:         %s\n", c.URL)
	}
	fmt.Fprintf(w, "  Priority:    %d\n", c.Priority)
	fmt.Fprintf(w, "  Enabled:     %t\n", c.Enabled)
	if len(c.Tags) > 0 {
		fmt.Fprintf(w, "  Tags:        %s\n", strings.Join(c.Tags, ", "))
	}
	fmt.Fprintf(w, "  State:       %s\n", v.Status.State)
	if v.Status.LastError != "" {
		fmt.Fprintf(w, "  Last error:  %s\n", v.Status.LastError)
	}
	if v.Status.State == mcp.StateConnected {
		fmt.Fprintf(w, "  Tools:       %d\n", v.Status.ToolsCount)
		fmt.Fprintf(w, "  Resources:   %d\n", v.Status.ResourcesCount)
		if v.Status.ServerInfo != nil {
			fmt.Fprintf(w, "  Remote:      %s %s\n", v.Status.ServerInfo.Name, v.Status.ServerInfo.Version)
		}
	}
}
