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

package cli

import (
	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for toolhub
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toolhub",
		Short: "toolhub - tool server orchestration",
		Long: `toolhub connects to Model Context Protocol tool servers, keeps a
unified catalog of their tools, and routes invocations to the right server
with timeouts, rate limits, and health monitoring.

Run 'toolhub serve' to start the hub.
Run 'toolhub servers add' to register a tool server.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Get flag pointers from shared package
	jsonOut, configPath, addr := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVar(jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(configPath, "config", "", "Path to config file (default: ~/.config/toolhub/config.yaml)")
	cmd.PersistentFlags().StringVar(addr, "addr", "", "toolhub address (default: $TOOLHUB_ADDR or "+shared.DefaultAddr+")")

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
