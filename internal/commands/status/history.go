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
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/health"
	"github.com/tombee/toolhub/internal/mcp"
)

// query builds the ?server=&limit= suffix shared by the history endpoints.
func query(server string, limit int, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if server != "" {
		q.Set("server", server)
	}
	q.Set("limit", strconv.Itoa(limit))
	return "?" + q.Encode()
}

// NewFindingsCommand creates the 'findings' command.
func NewFindingsCommand() *cobra.Command {
	var (
		server string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Show recorded health findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Get(cmd.Context(), "/v1/findings"+query(server, limit, nil))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp struct {
				Findings []health.Finding `json:"findings"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Findings) == 0 {
				fmt.Fprintln(out, "No findings.")
				return nil
			}

			table := shared.NewTable(out, "TIME", "SEVERITY", "SERVER", "RULE", "MESSAGE")
			for _, f := range resp.Findings {
				table.Row(f.Timestamp.Local().Format(time.DateTime), string(f.Severity), f.ServerID, f.Rule, shared.Truncate(f.Message, 60))
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only show findings for this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of findings")

	return cmd
}

// NewHistoryCommand creates the 'history' command listing invocation records.
func NewHistoryCommand() *cobra.Command {
	var (
		server string
		limit  int
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool invocations",
		Long: `Show invocation records, newest first.

Examples:
  toolhub history
  toolhub history --server files --since 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := url.Values{}
			if since > 0 {
				extra.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}
			data, err := shared.NewClient().Get(cmd.Context(), "/v1/invocations"+query(server, limit, extra))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp struct {
				Invocations []mcp.InvocationRecord `json:"invocations"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Invocations) == 0 {
				fmt.Fprintln(out, "No invocations recorded.")
				return nil
			}

			table := shared.NewTable(out, "TIME", "TOOL", "SERVER", "RESULT", "LATENCY")
			for _, rec := range resp.Invocations {
				result := "ok"
				if !rec.Success {
					result = string(rec.ErrorKind)
					if rec.OutcomeUnknown {
						result += " (outcome unknown)"
					}
				}
				table.Row(rec.Timestamp.Local().Format(time.DateTime), rec.ToolName, rec.ServerID, result,
					strconv.FormatInt(rec.LatencyMs, 10)+"ms")
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only show invocations routed to this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show invocations newer than this (e.g. 30m)")

	return cmd
}

// NewAuditCommand creates the 'audit' command.
func NewAuditCommand() *cobra.Command {
	var (
		server string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show configuration changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Get(cmd.Context(), "/v1/audit"+query(server, limit, nil))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp struct {
				Entries []mcp.AuditEntry `json:"entries"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Entries) == 0 {
				fmt.Fprintln(out, "No audit entries.")
				return nil
			}

			table := shared.NewTable(out, "TIME", "SERVER", "ACTION", "DETAIL")
			for _, e := range resp.Entries {
				table.Row(e.Timestamp.Local().Format(time.DateTime), e.ServerID, string(e.Action), shared.Truncate(e.Detail, 60))
			}
			return table.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only show entries for this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")

	return cmd
}
