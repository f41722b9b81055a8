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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		wantErr string
	}{
		{name: "defaults", rules: DefaultRules()},
		{name: "missing name", rules: []Rule{{When: "true", Severity: SeverityLow}}, wantErr: "name is required"},
		{name: "duplicate", rules: []Rule{
			{Name: "a", When: "true", Severity: SeverityLow},
			{Name: "a", When: "false", Severity: SeverityLow},
		}, wantErr: "duplicate"},
		{name: "bad severity", rules: []Rule{{Name: "a", When: "true", Severity: "urgent"}}, wantErr: "unknown severity"},
		{name: "syntax error", rules: []Rule{{Name: "a", When: "state ==", Severity: SeverityLow}}, wantErr: "rule a"},
		{name: "not boolean", rules: []Rule{{Name: "a", When: "requests + 1", Severity: SeverityLow}}, wantErr: "rule a"},
		{name: "unknown variable", rules: []Rule{{Name: "a", When: "cpu > 1", Severity: SeverityLow}}, wantErr: "rule a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := CompileRules(tt.rules)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Len(t, rs.Rules(), len(tt.rules))
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultRules_Match(t *testing.T) {
	rs, err := CompileRules(DefaultRules())
	require.NoError(t, err)

	tests := []struct {
		name  string
		facts Facts
		want  []string
	}{
		{name: "healthy", facts: Facts{State: "connected", Requests: 10, ErrorRate: 0.1, AvgLatencyMs: 40}},
		{name: "disconnected", facts: Facts{State: "disconnected"}, want: []string{"unavailable"}},
		{name: "error", facts: Facts{State: "error"}, want: []string{"unavailable"}},
		{name: "connecting", facts: Facts{State: "connecting"}},
		{name: "failing and slow", facts: Facts{State: "connected", Requests: 5, ErrorRate: 0.6, AvgLatencyMs: 6000}, want: []string{"error_rate", "latency"}},
		{name: "overdue probe", facts: Facts{State: "connected", ProbeOverdue: true}, want: []string{"probe_overdue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, err := rs.Match(tt.facts)
			require.NoError(t, err)
			var names []string
			for _, r := range matched {
				names = append(names, r.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestSeverity(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.False(t, Severity("urgent").Valid())
}
