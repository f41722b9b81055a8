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

// Package tools implements the tool catalog and invocation commands.
package tools

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
)

// NewToolsCommand creates the 'tools' command.
func NewToolsCommand() *cobra.Command {
	var (
		server string
		engine bool
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools from connected servers",
		Long: `List every tool in the catalog. The NAME column is what invoke
accepts; colliding names are qualified as <server>__<tool>.

Examples:
  toolhub tools
  toolhub tools --server files
  toolhub tools --engine`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if engine {
				data, err := shared.NewClient().Get(cmd.Context(), "/v1/engine/tools")
				if err != nil {
					return err
				}
				return shared.PrintJSON(cmd.OutOrStdout(), data)
			}

			path := "/v1/tools"
			if server != "" {
				path += "?server=" + url.QueryEscape(server)
			}
			data, err := shared.NewClient().Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp api.ToolListResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Tools) == 0 {
				fmt.Fprintln(out, "No tools available. Connect a server with: toolhub servers connect <id>")
				return nil
			}

			sort.Slice(resp.Tools, func(i, j int) bool { return resp.Tools[i].Name < resp.Tools[j].Name })
			table := shared.NewTable(out, "NAME", "SERVER", "DESCRIPTION")
			for _, t := range resp.Tools {
				table.Row(t.Name, t.ServerID, shared.Truncate(t.Description, 60))
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only list tools from this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)
	cmd.Flags().BoolVar(&engine, "engine", false, "Print the function declarations handed to chat engines")

	return cmd
}

// NewResourcesCommand creates the 'resources' command.
func NewResourcesCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List resources from connected servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/resources"
			if server != "" {
				path += "?server=" + url.QueryEscape(server)
			}
			data, err := shared.NewClient().Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp api.ResourceListResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Resources) == 0 {
				fmt.Fprintln(out, "No resources available.")
				return nil
			}

			table := shared.NewTable(out, "URI", "NAME", "SERVER", "MIME TYPE")
			for _, r := range resp.Resources {
				table.Row(r.URI, r.Name, r.ServerID, r.MIMEType)
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only list resources from this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)

	return cmd
}
