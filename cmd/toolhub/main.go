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

package main

import (
	"github.com/tombee/toolhub/internal/cli"
	"github.com/tombee/toolhub/internal/commands/completion"
	configcmd "github.com/tombee/toolhub/internal/commands/config"
	"github.com/tombee/toolhub/internal/commands/serve"
	"github.com/tombee/toolhub/internal/commands/servers"
	"github.com/tombee/toolhub/internal/commands/status"
	"github.com/tombee/toolhub/internal/commands/tools"
	versioncmd "github.com/tombee/toolhub/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	cli.AddGroup(rootCmd, cli.GroupHub,
		serve.NewServeCommand(),
		status.NewStatusCommand(),
	)
	cli.AddGroup(rootCmd, cli.GroupServers,
		servers.NewServersCommand(),
	)
	cli.AddGroup(rootCmd, cli.GroupCatalog,
		tools.NewToolsCommand(),
		tools.NewResourcesCommand(),
		tools.NewInvokeCommand(),
		tools.NewCallCommand(),
	)
	cli.AddGroup(rootCmd, cli.GroupObservability,
		status.NewFindingsCommand(),
		status.NewHistoryCommand(),
		status.NewAuditCommand(),
		status.NewWatchCommand(),
	)
	cli.AddGroup(rootCmd, cli.GroupSetup,
		configcmd.NewConfigCommand(),
		completion.NewCommand(),
		versioncmd.NewVersionCommand(),
	)

	// Custom help command with JSON support
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
