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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/commands/completion"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

// NewWatchCommand creates the 'watch' command that follows the event stream.
func NewWatchCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow connection, catalog, and health events",
		Long: `Print events from the running toolhub as they happen. Stop with Ctrl-C.

Examples:
  toolhub watch
  toolhub watch --server files --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := shared.NewClient().Stream(cmd.Context(), "/v1/events")
			if err != nil {
				return err
			}
			defer body.Close()

			err = follow(body, func(ev mcp.Event) error {
				if server != "" && ev.ServerID != server {
					return nil
				}
				return printEvent(cmd.OutOrStdout(), ev)
			})
			if errors.Is(err, context.Canceled) || cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only show events for this server")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.ServerFlag)

	return cmd
}

// follow reads server-sent events and calls fn with each decoded data line.
// Comment lines and unparseable payloads are skipped.
func follow(r io.Reader, fn func(mcp.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev mcp.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func printEvent(w io.Writer, ev mcp.Event) error {
	if shared.GetJSON() {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	line := fmt.Sprintf("%s  %-22s", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type)
	if ev.ServerID != "" {
		line += "  " + ev.ServerID
	}
	if ev.Message != "" {
		line += "  " + ev.Message
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
