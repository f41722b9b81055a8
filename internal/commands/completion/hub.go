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

package completion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

const (
	cacheTTL   = 2 * time.Second
	hubTimeout = 500 * time.Millisecond
)

type cacheEntry struct {
	values    []string
	expiresAt time.Time
}

var (
	cache   = map[string]cacheEntry{}
	cacheMu sync.Mutex
)

// cached returns the values stored under key, fetching them when missing or
// expired. Keys include the hub address so a changed --addr misses.
func cached(key string, fetch func(ctx context.Context) ([]string, error)) ([]string, error) {
	cacheMu.Lock()
	if e, ok := cache[key]; ok && time.Now().Before(e.expiresAt) {
		cacheMu.Unlock()
		return e.values, nil
	}
	cacheMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), hubTimeout)
	defer cancel()
	values, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[key] = cacheEntry{values: values, expiresAt: time.Now().Add(cacheTTL)}
	cacheMu.Unlock()
	return values, nil
}

// CompleteServerIDs completes the first argument with registered server ids,
// described by their current state.
func CompleteServerIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		addr := shared.GetAddr()
		ids, err := cached("servers|"+addr, func(ctx context.Context) ([]string, error) {
			var resp api.ServerListResponse
			if err := shared.NewClientFor(addr).GetJSON(ctx, "/v1/servers", &resp); err != nil {
				return nil, err
			}
			out := make([]string, 0, len(resp.Servers))
			for _, s := range resp.Servers {
				out = append(out, s.Config.ID+"\t"+string(s.Status.State))
			}
			return out, nil
		})
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return ids, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteToolNames completes the first argument with catalog tool names.
func CompleteToolNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		addr := shared.GetAddr()
		names, err := cached("tools|"+addr, func(ctx context.Context) ([]string, error) {
			var resp api.ToolListResponse
			if err := shared.NewClientFor(addr).GetJSON(ctx, "/v1/tools", &resp); err != nil {
				return nil, err
			}
			return toolCompletions(resp.Tools), nil
		})
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
}

func toolCompletions(tools []mcp.ToolDescriptor) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		desc := t.ServerID
		if t.Description != "" {
			desc += ": " + t.Description
		}
		out = append(out, t.Name+"\t"+desc)
	}
	sort.Strings(out)
	return out
}

// ServerFlag completes a --server flag with server ids.
func ServerFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return CompleteServerIDs(cmd, nil, toComplete)
}
