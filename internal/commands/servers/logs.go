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
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

func newLogsCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show captured server output",
		Long: `Show the most recent lines a server wrote to stderr, oldest first.

Examples:
  toolhub servers logs files
  toolhub servers logs files --lines 20`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 1 {
				return shared.NewInvalidArgsError("--lines must be positive", nil)
			}
			path := fmt.Sprintf("/v1/servers/%s/logs?lines=%d", url.PathEscape(args[0]), lines)
			data, err := shared.NewClient().Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp api.LogsResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Lines) == 0 {
				fmt.Fprintf(out, "No output captured for %s.\n", args[0])
				return nil
			}
			for _, l := range resp.Lines {
				fmt.Fprintf(out, "%s  %s\n", l.Timestamp.Local().Format(time.TimeOnly), l.Line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show")

	return cmd
}

func newEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:               "events <id>",
		Short:             "Show a server's connection history",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/servers/" + url.PathEscape(args[0]) + "/events?limit=" + strconv.Itoa(limit)
			data, err := shared.NewClient().Get(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var resp struct {
				Events []mcp.ConnectionEvent `json:"events"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if len(resp.Events) == 0 {
				fmt.Fprintf(out, "No connection events for %s.\n", args[0])
				return nil
			}

			table := shared.NewTable(out, "TIME", "FROM", "TO", "MESSAGE")
			for _, e := range resp.Events {
				table.Row(e.Timestamp.Local().Format(time.DateTime), string(e.From), string(e.To), shared.Truncate(e.Message, 60))
			}
			return table.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")

	return cmd
}
