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

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
)

func newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <id>",
		Short: "Connect a server",
		Long: `Connect a server and discover its tools. Connecting an already
connected server is a no-op.

Examples:
  toolhub servers connect files`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, args[0], "connect", "Connected")
		},
	}
}

func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Disconnect a server",
		Long: `Disconnect a server. Its tools leave the catalog; it stays registered.

Examples:
  toolhub servers disconnect files`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteServerIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLifecycle(cmd, args[0], "disconnect", "Disconnected")
		},
	}
}

func runLifecycle(cmd *cobra.Command, id, action, verb string) error {
	data, err := shared.NewClient().Post(cmd.Context(), "/v1/servers/"+url.PathEscape(id)+"/"+action, nil)
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
	fmt.Fprintf(out, "%s server: %s (%d tools)\n", verb, id, v.Status.ToolsCount)
	return nil
}
