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
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/mcp"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <file>",
		Short: "Reconcile servers from a servers file",
		Long: `Create or update servers from a YAML servers file. Servers that are
registered but absent from the file are left alone.

The file is validated locally before anything is sent.

Examples:
  toolhub servers sync servers.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := config.LoadServersFile(args[0])
			if err != nil {
				return shared.NewInvalidArgsError("invalid servers file", err)
			}
			for i := range servers {
				if err := servers[i].Validate(); err != nil {
					return shared.NewInvalidArgsError(fmt.Sprintf("invalid server %q in %s", servers[i].ID, args[0]), err)
				}
			}

			data, err := shared.NewClient().Post(cmd.Context(), "/v1/servers/sync", api.SyncRequest{Servers: servers})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var res mcp.SyncResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printSyncResult(out, res)
			if len(res.Failed) > 0 {
				return &shared.ExitError{
					Code:    shared.ExitFailed,
					Message: fmt.Sprintf("%d server(s) failed to sync", len(res.Failed)),
				}
			}
			return nil
		},
	}
}

func printSyncResult(w io.Writer, res mcp.SyncResult) {
	line := func(label string, ids []string) {
		if len(ids) > 0 {
			fmt.Fprintf(w, "%-10s %s\n", label+":", strings.Join(ids, ", "))
		}
	}
	line("Created", res.Created)
	line("Updated", res.Updated)
	line("Unchanged", res.Unchanged)

	ids := make([]string, 0, len(res.Failed))
	for id := range res.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "Failed:    %s: %s\n", id, res.Failed[id])
	}
}
