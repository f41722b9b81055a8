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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/toolhub/internal/commands/shared"
)

// Command groups shown in root help.
const (
	GroupHub           = "hub"
	GroupServers       = "servers"
	GroupCatalog       = "catalog"
	GroupObservability = "observability"
	GroupSetup         = "setup"
)

var groupTitles = []*cobra.Group{
	{ID: GroupHub, Title: "Hub:"},
	{ID: GroupServers, Title: "Tool servers:"},
	{ID: GroupCatalog, Title: "Catalog and invocation:"},
	{ID: GroupObservability, Title: "Observability:"},
	{ID: GroupSetup, Title: "Setup:"},
}

// AddGroup attaches cmds to root under the named group, declaring the
// group on first use.
func AddGroup(root *cobra.Command, group string, cmds ...*cobra.Command) {
	if !root.ContainsGroup(group) {
		for _, g := range groupTitles {
			if g.ID == group {
				root.AddGroup(g)
			}
		}
	}
	for _, c := range cmds {
		if root.ContainsGroup(group) {
			c.GroupID = group
		}
		root.AddCommand(c)
	}
}

// CommandMetadata describes one command for JSON help. Subcommands nest so
// a single reply carries the whole tree below the requested command.
type CommandMetadata struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	Short       string            `json:"short"`
	Long        string            `json:"long,omitempty"`
	Usage       string            `json:"usage"`
	Flags       []FlagMetadata    `json:"flags,omitempty"`
	Examples    string            `json:"examples,omitempty"`
	Group       string            `json:"group,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Subcommands []CommandMetadata `json:"subcommands,omitempty"`
}

// FlagMetadata describes a flag.
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required"`
}

// ExitCodeInfo documents one process exit status.
type ExitCodeInfo struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

// HelpResponse is the JSON body of `toolhub help --json`.
type HelpResponse struct {
	Version     string            `json:"version"`
	Commands    []CommandMetadata `json:"commands,omitempty"`
	Command     *CommandMetadata  `json:"command,omitempty"`
	GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	ExitCodes   []ExitCodeInfo    `json:"exit_codes"`
}

// ExitCodes lists the statuses HandleExitError produces.
func ExitCodes() []ExitCodeInfo {
	return []ExitCodeInfo{
		{shared.ExitSuccess, "success"},
		{shared.ExitFailed, "operation failed"},
		{shared.ExitInvalidArgs, "invalid arguments or configuration"},
		{shared.ExitUnreachable, "hub unreachable"},
		{shared.ExitNotFound, "server, tool, or resource not found"},
	}
}

// NewHelpCommand creates the help command
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command...]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

Run 'toolhub help' to see all available commands.
Run 'toolhub help servers add' to see help for a nested command.
Use --json for a machine-readable command tree including exit codes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			useJSON := shared.GetJSON() || jsonOutput

			target := rootCmd
			if len(args) > 0 {
				found, rest, err := rootCmd.Find(args)
				if err != nil || len(rest) > 0 || found == rootCmd {
					return shared.NewInvalidArgsError(fmt.Sprintf("unknown command %q", args), nil)
				}
				target = found
			}

			if !useJSON {
				return target.Help()
			}

			version, _, _ := shared.GetVersion()
			resp := HelpResponse{
				Version:     version,
				GlobalFlags: flagList(rootCmd.PersistentFlags()),
				ExitCodes:   ExitCodes(),
			}
			if target == rootCmd {
				resp.Commands = subcommands(rootCmd)
			} else {
				meta := describe(target)
				resp.Command = &meta
			}
			return shared.EncodeJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// describe builds metadata for cmd and everything below it.
func describe(cmd *cobra.Command) CommandMetadata {
	meta := CommandMetadata{
		Name:        cmd.Name(),
		Path:        cmd.CommandPath(),
		Short:       cmd.Short,
		Long:        cmd.Long,
		Usage:       cmd.UseLine(),
		Examples:    cmd.Example,
		Group:       cmd.GroupID,
		Aliases:     cmd.Aliases,
		Flags:       flagList(cmd.LocalFlags()),
		Subcommands: subcommands(cmd),
	}
	if meta.Group == "" && cmd.Annotations != nil {
		meta.Group = cmd.Annotations["group"]
	}
	return meta
}

func subcommands(cmd *cobra.Command) []CommandMetadata {
	var out []CommandMetadata
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Deprecated != "" || sub.Name() == "help" {
			continue
		}
		out = append(out, describe(sub))
	}
	return out
}

func flagList(fs *pflag.FlagSet) []FlagMetadata {
	var flags []FlagMetadata
	fs.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden || flag.Name == "help" {
			return
		}
		meta := FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Type:      flag.Value.Type(),
			Usage:     flag.Usage,
			Default:   flag.DefValue,
		}
		if ann, ok := flag.Annotations[cobra.BashCompOneRequiredFlag]; ok && len(ann) > 0 && ann[0] == "true" {
			meta.Required = true
		}
		flags = append(flags, meta)
	})
	return flags
}
