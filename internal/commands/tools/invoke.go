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

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/chatbridge"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

// NewInvokeCommand creates the 'invoke' command.
func NewInvokeCommand() *cobra.Command {
	var (
		rawArgs string
		kvArgs  []string
	)

	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke a tool",
		Long: `Invoke a tool by name and print its result.

Arguments come from --args as a JSON object, or from --arg key=value pairs.
Values given with --arg are parsed as JSON when they can be, so numbers and
booleans keep their type.

Examples:
  toolhub invoke read_file --arg path=/tmp/notes.txt
  toolhub invoke files__search --args '{"query":"todo","limit":5}'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteToolNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArguments(rawArgs, kvArgs)
			if err != nil {
				return err
			}

			data, err := shared.NewClient().Post(cmd.Context(), "/v1/invoke", mcp.Request{Tool: args[0], Arguments: arguments})
			out := cmd.OutOrStdout()
			if err != nil {
				var apiErr *shared.APIError
				if shared.GetJSON() && errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
					_ = shared.PrintJSON(out, apiErr.Body)
				}
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(out, data)
			}

			var res mcp.InvocationResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			printResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Arguments as a JSON object")
	cmd.Flags().StringArrayVar(&kvArgs, "arg", nil, "Argument key=value (repeatable)")

	return cmd
}

// parseArguments merges --args and --arg into one argument map.
func parseArguments(raw string, pairs []string) (map[string]any, error) {
	var args map[string]any
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, shared.NewInvalidArgsError("--args must be a JSON object", err)
		}
	}

	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, shared.NewInvalidArgsError(fmt.Sprintf("argument %q must be key=value", p), nil)
		}
		if args == nil {
			args = make(map[string]any)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			args[k] = decoded
		} else {
			args[k] = v
		}
	}
	return args, nil
}

func printResult(w io.Writer, res mcp.InvocationResult) {
	if res.Result != nil {
		for _, item := range res.Result.Content {
			switch item.Type {
			case "text":
				fmt.Fprintln(w, item.Text)
			case "resource":
				fmt.Fprintf(w, "[resource %s]\n", item.URI)
				if item.Text != "" {
					fmt.Fprintln(w, item.Text)
				}
			default:
				fmt.Fprintf(w, "[%s %s, %d bytes]\n", item.Type, item.MimeType, len(item.Data))
			}
		}
		if len(res.Result.Content) == 0 && res.Result.StructuredContent != nil {
			data, _ := json.MarshalIndent(res.Result.StructuredContent, "", "  ")
			fmt.Fprintln(w, string(data))
		}
	}
	fmt.Fprintf(w, "\n(%s via %s in %sms, id %s)\n",
		res.Record.ToolName, res.Record.ServerID, strconv.FormatInt(res.Record.LatencyMs, 10), res.Record.ID)
}

// NewCallCommand creates the 'call' command, which goes through the
// engine bridge the way a chat engine would.
func NewCallCommand() *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool through the engine bridge",
		Long: `Call a tool the way a chat engine does. The reply is always the
bridge's JSON envelope, including for failures.

Examples:
  toolhub call read_file --args '{"path":"/tmp/notes.txt"}'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteToolNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := shared.NewClient().Post(cmd.Context(), "/v1/engine/call", chatbridge.ToolCall{
				ID:        "cli",
				Name:      args[0],
				Arguments: rawArgs,
			})
			if err != nil {
				return err
			}

			var res chatbridge.ToolResult
			if err := json.Unmarshal(data, &res); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			if err := shared.PrintJSON(cmd.OutOrStdout(), []byte(res.Content)); err != nil {
				return err
			}
			if res.IsError {
				return &shared.ExitError{Code: shared.ExitFailed, Message: "tool call failed"}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Arguments as a JSON object string")

	return cmd
}
