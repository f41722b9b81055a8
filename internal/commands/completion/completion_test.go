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
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/cmdtest"
	"github.com/tombee/toolhub/internal/mcp"
)

func TestSafeCompletionWrapper(t *testing.T) {
	got, directive := SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		panic("boom")
	})
	if len(got) != 0 {
		t.Errorf("expected empty completions after panic, got %v", got)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected ShellCompDirectiveNoFileComp, got %v", directive)
	}

	got, _ = SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		return nil, cobra.ShellCompDirectiveDefault
	})
	if got == nil || len(got) != 0 {
		t.Errorf("expected non-nil empty slice, got %v", got)
	}
}

func TestStaticCompletions(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)
		want string
	}{
		{"states", CompleteStates, "connected"},
		{"transports", CompleteTransports, "network"},
		{"capabilities", CompleteCapabilities, "resources"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, directive := tt.fn(nil, nil, "")
			if directive != cobra.ShellCompDirectiveNoFileComp {
				t.Errorf("expected ShellCompDirectiveNoFileComp, got %v", directive)
			}
			if !hasValue(got, tt.want) {
				t.Errorf("expected %q in %v", tt.want, got)
			}
		})
	}
}

func TestCompleteServerIDs(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)
	t.Setenv("TOOLHUB_ADDR", env.URL)

	got, directive := CompleteServerIDs(nil, nil, "")
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected ShellCompDirectiveNoFileComp, got %v", directive)
	}
	if len(got) != 1 || got[0] != "web\tconnected" {
		t.Errorf("expected [web\\tconnected], got %v", got)
	}

	// Only the first argument is a server id.
	got, _ = CompleteServerIDs(nil, []string{"web"}, "")
	if len(got) != 0 {
		t.Errorf("expected no completions for second argument, got %v", got)
	}
}

func TestCompleteToolNames(t *testing.T) {
	env := cmdtest.Start(t)
	env.ConnectWeb(t)
	t.Setenv("TOOLHUB_ADDR", env.URL)

	got, _ := CompleteToolNames(nil, nil, "")
	for _, want := range []string{"echo", "fail", "slow"} {
		if !hasValue(got, want) {
			t.Errorf("expected %q in %v", want, got)
		}
	}
}

func TestCompleteServerIDs_Unreachable(t *testing.T) {
	t.Setenv("TOOLHUB_ADDR", "http://127.0.0.1:1")

	got, directive := CompleteServerIDs(nil, nil, "")
	if len(got) != 0 {
		t.Errorf("expected empty completions, got %v", got)
	}
	if directive != cobra.ShellCompDirectiveNoFileComp {
		t.Errorf("expected ShellCompDirectiveNoFileComp, got %v", directive)
	}
}

func TestToolCompletions(t *testing.T) {
	got := toolCompletions([]mcp.ToolDescriptor{
		{Name: "search", ServerID: "web", Description: "Search the web"},
		{Name: "fs__read", ServerID: "fs"},
	})
	want := []string{"fs__read\tfs", "search\tweb: Search the web"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "toolhub"}
	cmd := NewCommand()
	root.AddCommand(cmd)

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			var buf bytes.Buffer
			root.SetOut(&buf)
			root.SetArgs([]string{"completion", shell})
			if err := root.Execute(); err != nil {
				t.Fatalf("completion %s failed: %v", shell, err)
			}
			if !strings.Contains(buf.String(), "toolhub") {
				t.Errorf("expected script to mention toolhub")
			}
		})
	}

	root.SetArgs([]string{"completion", "tcsh"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Error("expected error for unsupported shell")
	}
}

func hasValue(completions []string, value string) bool {
	for _, c := range completions {
		if name, _, _ := strings.Cut(c, "\t"); name == value {
			return true
		}
	}
	return false
}
