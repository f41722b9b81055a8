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

// Package servers implements the 'toolhub servers' command group.
package servers

import (
	"github.com/spf13/cobra"
)

// NewServersCommand creates the servers command for server registration
// and connection management.
func NewServersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Annotations: map[string]string{
			"group": "servers",
		},
		Short: "Manage registered tool servers",
		Long: `Manage the tool servers toolhub connects to.

Commands:
  list        List registered servers and their connection state
  get         Show one server's configuration and status
  add         Register a new server
  remove      Remove a server
  enable      Enable a server
  disable     Disable a server and drop its connection
  connect     Connect a server
  disconnect  Disconnect a server
  logs        Show captured server output
  events      Show connection history
  sync        Reconcile servers from a servers file`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newEnableCommand())
	cmd.AddCommand(newDisableCommand())
	cmd.AddCommand(newConnectCommand())
	cmd.AddCommand(newDisconnectCommand())
	cmd.AddCommand(newLogsCommand())
	cmd.AddCommand(newEventsCommand())
	cmd.AddCommand(newSyncCommand())

	return cmd
}
