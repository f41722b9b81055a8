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

// Package status implements the status, findings, history, and watch commands.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/shared"
)

// NewStatusCommand creates the 'status' command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running toolhub's status",
		Long: `Show server counts, catalog size, per-server health metrics, and
the latest health findings.

Examples:
  toolhub status
  toolhub status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Get(cmd.Context(), "/v1/status")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp api.StatusResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			return printStatus(out, resp)
		},
	}
}

func printStatus(w io.Writer, s api.StatusResponse) error {
	if s.Version != "" {
		fmt.Fprintf(w, "toolhub %s (up %s)\n\n", s.Version, s.Uptime)
	} else {
		fmt.Fprintf(w, "toolhub (up %s)\n\n", s.Uptime)
	}
	fmt.Fprintf(w, "Servers:   %d registered, %d enabled, %d connected, %d in error\n",
		s.Servers.Total, s.Servers.Enabled, s.Servers.Connected, s.Servers.Errored)
	fmt.Fprintf(w, "Catalog:   %d tools, %d resources\n", s.Tools, s.Resources)
	if s.EventsDropped > 0 {
		fmt.Fprintf(w, "Events:    %d dropped for slow subscribers\n", s.EventsDropped)
	}

	if len(s.PerServer) > 0 {
		fmt.Fprintln(w)
		table := shared.NewTable(w, "SERVER", "STATE", "TOOLS", "CALLS", "ERROR RATE", "AVG LATENCY")
		for _, ps := range s.PerServer {
			table.Row(
				ps.ServerID,
				string(ps.State),
				strconv.Itoa(ps.Tools),
				strconv.FormatInt(ps.Metrics.TotalRequests, 10),
				fmt.Sprintf("%.0f%%", ps.Metrics.ErrorRate()*100),
				fmt.Sprintf("%.0fms", ps.Metrics.AverageLatencyMs),
			)
		}
		if err := table.Flush(); err != nil {
			return err
		}
	}

	if len(s.Findings) > 0 {
		fmt.Fprintln(w, "\nFindings:")
		for _, f := range s.Findings {
			target := f.ServerID
			if target == "" {
				target = "all servers"
			}
			fmt.Fprintf(w, "  [%s] %s: %s\n", f.Severity, target, f.Message)
		}
	}
	return nil
}
