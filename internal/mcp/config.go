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

package mcp

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/tombee/toolhub/internal/mcp/transport"
)

// ServerIDRegex validates server ids.
// Must start with a letter, followed by alphanumeric, hyphens, or underscores.
var ServerIDRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// shellInjectionPatterns are rejected in arguments. Commands are executed
// directly, never through a shell, but configs are often copied from shell
// snippets where these would mean something else.
var shellInjectionPatterns = []string{
	"$(", "`", "&&", "||", ";", "|", ">", "<", "${",
}

// Validate checks that the config is complete and well formed for its
// transport kind. All problems are reported in one ConfigError.
func (c *ServerConfig) Validate() error {
	var problems []string
	field := ""
	addProblem := func(f, msg string) {
		if field == "" {
			field = f
		}
		problems = append(problems, msg)
	}

	if err := ValidateServerID(c.ID); err != nil {
		addProblem("id", err.Error())
	}
	if c.Timeout < 0 {
		addProblem("timeout", "timeout must not be negative")
	}
	if c.RateLimit < 0 {
		addProblem("rate_limit", "rate_limit must not be negative")
	}

	switch c.Transport {
	case TransportProcess:
		if strings.TrimSpace(c.Command) == "" {
			addProblem("command", "command is required for process transport")
		}
		for _, arg := range c.Args {
			if err := ValidateArg(arg); err != nil {
				addProblem("args", err.Error())
			}
		}
		for _, env := range c.Env {
			if err := ValidateEnv(env); err != nil {
				addProblem("env", err.Error())
			}
		}
		if c.URL != "" {
			addProblem("url", "url is only valid for network transport")
		}
	case TransportNetwork:
		if err := ValidateURL(c.URL); err != nil {
			addProblem("url", err.Error())
		}
		switch c.Protocol {
		case "", transport.ProtocolStreamableHTTP, transport.ProtocolSSE:
		default:
			addProblem("protocol", fmt.Sprintf("unsupported protocol %q (use %s or %s)",
				c.Protocol, transport.ProtocolStreamableHTTP, transport.ProtocolSSE))
		}
		if c.Command != "" {
			addProblem("command", "command is only valid for process transport")
		}
	case "":
		addProblem("transport", "transport is required")
	default:
		addProblem("transport", fmt.Sprintf("unknown transport %q (use process or network)", c.Transport))
	}

	if len(problems) == 0 {
		return nil
	}

	err := NewConfigError(ErrorCodeValidation, c.ID, field, "invalid server configuration")
	err.WithDetail(strings.Join(problems, "; "))
	return err
}

// ValidateServerID checks an id against ServerIDRegex.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("server id is required")
	}
	if !ServerIDRegex.MatchString(id) {
		return fmt.Errorf("invalid server id %q: must start with a letter and contain only letters, digits, hyphens, or underscores (max 64 chars)", id)
	}
	if strings.Contains(id, ToolNameSeparator) {
		return fmt.Errorf("invalid server id %q: must not contain %q", id, ToolNameSeparator)
	}
	return nil
}

// ValidateArg rejects shell metacharacter sequences.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateEnv checks a KEY=VALUE entry.
func ValidateEnv(env string) error {
	key, value, ok := strings.Cut(env, "=")
	if !ok {
		return fmt.Errorf("environment variable %q must be in KEY=VALUE format", env)
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %q", key)
	}
	for _, pattern := range shellInjectionPatterns {
		// ${VAR} substitution is allowed in values.
		if pattern == "${" {
			continue
		}
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value for %s contains potentially unsafe pattern %q", key, pattern)
		}
	}
	return nil
}

// ValidateURL requires an absolute http or https URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required for network transport")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveKey reports whether an env or header name looks secret.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe to log or return from the API: values of
// sensitive env entries and headers are masked.
func (c ServerConfig) Redacted() ServerConfig {
	out := c.Clone()
	for i, env := range out.Env {
		if key, _, ok := strings.Cut(env, "="); ok && IsSensitiveKey(key) {
			out.Env[i] = key + "=***REDACTED***"
		}
	}
	for k := range out.Headers {
		if IsSensitiveKey(k) {
			out.Headers[k] = "***REDACTED***"
		}
	}
	return out
}

// SortServers orders configs by priority (highest first), then id.
func SortServers(cfgs []ServerConfig) {
	sort.SliceStable(cfgs, func(i, j int) bool {
		if cfgs[i].Priority != cfgs[j].Priority {
			return cfgs[i].Priority > cfgs[j].Priority
		}
		return cfgs[i].ID < cfgs[j].ID
	})
}
