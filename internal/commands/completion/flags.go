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
	"github.com/spf13/cobra"
)

// SafeCompletionWrapper wraps a completion function with panic recovery.
// Returns empty completion list on panic or error.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}

// staticCompletion returns a completion function over fixed values.
func staticCompletion(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		})
	}
}

// CompleteStates completes --state values.
var CompleteStates = staticCompletion(
	"disabled\tNot managed",
	"disconnected\tEnabled but not connected",
	"connecting\tHandshake in progress",
	"connected\tSession is live",
	"error\tLast attempt failed",
)

// CompleteTransports completes --transport values.
var CompleteTransports = staticCompletion(
	"process\tLocal subprocess over stdio",
	"network\tRemote server over HTTP",
)

// CompleteCapabilities completes --capability values.
var CompleteCapabilities = staticCompletion(
	"tools\tTool listing and invocation",
	"resources\tResource listing",
	"prompts\tPrompt templates",
)
