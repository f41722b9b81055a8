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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Path     string   `json:"path,omitempty"`
	Servers  int      `json:"servers"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file and the servers file it names.

Checks performed:
  - YAML syntax and structure
  - Durations, limits, and addresses are in range
  - Health rule expressions compile
  - Every server in the servers file is well formed

With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  toolhub config validate

  # Validate a specific file with warnings as errors
  toolhub --config ./toolhub.yaml config validate --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return outputValidationResult(cmd, validate(), strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

// validate loads the config the way serve would and collects problems.
func validate() ValidationResult {
	var result ValidationResult

	path, err := configPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil || shared.GetConfigPath() != "" {
			result.Path = path
		}
	}

	var cfg *config.Config
	if result.Path != "" {
		cfg, err = config.Load(result.Path)
	} else {
		cfg, err = config.Load("")
		result.Warnings = append(result.Warnings, "no config file found; defaults are in use")
	}
	if err != nil {
		result.Errors = append(result.Errors, splitProblems(err)...)
		return result
	}

	if cfg.ServersFile != "" {
		servers, err := config.LoadServersFile(cfg.ServersFile)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Servers = len(servers)
			for _, s := range servers {
				if err := s.Validate(); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("server %s: %v", s.ID, err))
					continue
				}
				if !s.Enabled {
					result.Warnings = append(result.Warnings, fmt.Sprintf("server %s is disabled", s.ID))
				}
			}
		}
	} else if cfg.WatchServersFile {
		result.Warnings = append(result.Warnings, "watch_servers_file is set but servers_file is empty")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.SampleRatio == 0 {
		result.Warnings = append(result.Warnings, "tracing is enabled with sample_ratio 0; no spans will be recorded")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// splitProblems turns a multi-line validation error into one entry per
// problem.
func splitProblems(err error) []string {
	if !errors.Is(err, config.ErrInvalidConfig) {
		return []string{err.Error()}
	}
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" || strings.HasPrefix(line, config.ErrInvalidConfig.Error()) {
			continue
		}
		out = append(out, line)
	}
	if len(out) == 0 {
		return []string{err.Error()}
	}
	return out
}

func outputValidationResult(cmd *cobra.Command, result ValidationResult, strict bool) error {
	failed := !result.Valid || (strict && len(result.Warnings) > 0)
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		if err := shared.EncodeJSON(out, result); err != nil {
			return err
		}
	} else {
		if result.Path != "" {
			fmt.Fprintf(out, "Config: %s\n", result.Path)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  error:   %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		if !failed {
			fmt.Fprintf(out, "Configuration is valid (%d servers).\n", result.Servers)
		}
	}

	if failed {
		return &shared.ExitError{Code: shared.ExitInvalidArgs, Message: "configuration is invalid"}
	}
	return nil
}
