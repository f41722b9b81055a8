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

package health

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule is one row of the health rule table. When is an expr boolean
// expression over the Facts variables.
type Rule struct {
	Name     string   `yaml:"name" json:"name"`
	When     string   `yaml:"when" json:"when"`
	Severity Severity `yaml:"severity" json:"severity"`
	Message  string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// DefaultRules is the rule table used when none is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "unavailable",
			When:     `state in ["disconnected", "error"]`,
			Severity: SeverityCritical,
			Message:  "server is not connected",
		},
		{
			Name:     "error_rate",
			When:     `requests > 0 && errorRate >= 0.2`,
			Severity: SeverityHigh,
			Message:  "error rate at or above 20%",
		},
		{
			Name:     "latency",
			When:     `avgLatencyMs > 5000`,
			Severity: SeverityMedium,
			Message:  "average latency above 5s",
		},
		{
			Name:     "probe_overdue",
			When:     `state == "connected" && probeOverdue`,
			Severity: SeverityLow,
			Message:  "no successful probe recently",
		},
	}
}

// Facts are what a rule can see about one server.
type Facts struct {
	ServerID      string
	State         string
	Enabled       bool
	ErrorRate     float64
	AvgLatencyMs  float64
	Requests      int64
	Failures      int64
	SinceProbeSec float64
	ProbeOverdue  bool
}

func (f Facts) env() map[string]any {
	return map[string]any{
		"serverId":      f.ServerID,
		"state":         f.State,
		"enabled":       f.Enabled,
		"errorRate":     f.ErrorRate,
		"avgLatencyMs":  f.AvgLatencyMs,
		"requests":      f.Requests,
		"failures":      f.Failures,
		"sinceProbeSec": f.SinceProbeSec,
		"probeOverdue":  f.ProbeOverdue,
	}
}

type compiledRule struct {
	Rule
	program *vm.Program
}

// RuleSet is a compiled rule table. It is immutable.
type RuleSet struct {
	rules []compiledRule
}

// CompileRules type-checks every rule against the Facts variables.
func CompileRules(rules []Rule) (*RuleSet, error) {
	env := Facts{}.env()
	seen := make(map[string]bool, len(rules))

	rs := &RuleSet{}
	var problems []string
	for i, r := range rules {
		name := r.Name
		if name == "" {
			problems = append(problems, fmt.Sprintf("rule %d: name is required", i))
			continue
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("rule %s: duplicate name", name))
			continue
		}
		seen[name] = true
		if !r.Severity.Valid() {
			problems = append(problems, fmt.Sprintf("rule %s: unknown severity %q", name, r.Severity))
			continue
		}

		program, err := expr.Compile(r.When, expr.Env(env), expr.AsBool())
		if err != nil {
			problems = append(problems, fmt.Sprintf("rule %s: %v", name, err))
			continue
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, program: program})
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid health rules: %s", strings.Join(problems, "; "))
	}
	return rs, nil
}

// Match returns the rules that hold for f, in table order.
func (rs *RuleSet) Match(f Facts) ([]Rule, error) {
	env := f.env()
	var matched []Rule
	var errs []string
	for _, r := range rs.rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %s: %v", r.Name, err))
			continue
		}
		if ok, _ := out.(bool); ok {
			matched = append(matched, r.Rule)
		}
	}
	if len(errs) > 0 {
		return matched, fmt.Errorf("rule evaluation failed: %s", strings.Join(errs, "; "))
	}
	return matched, nil
}

// Rules returns the uncompiled table.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Rule
	}
	return out
}
