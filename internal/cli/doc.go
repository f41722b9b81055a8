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

/*
Package cli provides the root command for the toolhub binary.

The tree is:

	toolhub
	├── serve        Run the hub and its control surface
	├── servers      Register, connect, and inspect tool servers
	├── tools        List the tool catalog
	├── resources    List resources
	├── invoke       Invoke a tool
	├── call         Invoke a tool through the engine bridge
	├── status       Show hub status and health
	├── findings     Show health findings
	├── history      Show invocation records
	├── audit        Show configuration changes
	├── watch        Follow the event stream
	├── config       Show and validate configuration
	├── completion   Generate shell completion scripts
	├── version      Show version
	└── help         Show help

Subcommands are registered by main. Every command except serve, config, and
completion talks to a running hub over HTTP at --addr.

# Error Handling

Errors are returned from RunE and turned into exit codes by HandleExitError:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid usage or configuration
  - Exit 3: Hub unreachable
  - Exit 4: Not found
*/
package cli
