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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMetricsTracker_Window(t *testing.T) {
	clock := newFakeClock()
	tr := NewMetricsTracker(time.Minute, clock.Now)

	tr.Record(InvocationRecord{ServerID: "a", Success: true, LatencyMs: 10, Timestamp: clock.Now()})
	tr.Record(InvocationRecord{ServerID: "a", Success: false, LatencyMs: 30, Timestamp: clock.Now()})

	agg := tr.Aggregate("a")
	assert.Equal(t, int64(2), agg.TotalRequests)
	assert.Equal(t, int64(1), agg.Successes)
	assert.Equal(t, int64(1), agg.Failures)
	assert.InDelta(t, 20.0, agg.AverageLatencyMs, 0.001)
	assert.InDelta(t, 0.5, agg.ErrorRate(), 0.001)
	assert.Equal(t, time.Minute, agg.Window)

	clock.Advance(2 * time.Minute)
	tr.Record(InvocationRecord{ServerID: "a", Success: true, LatencyMs: 4, Timestamp: clock.Now()})

	agg = tr.Aggregate("a")
	assert.Equal(t, int64(1), agg.TotalRequests)
	assert.Equal(t, int64(0), agg.Failures)
	assert.InDelta(t, 4.0, agg.AverageLatencyMs, 0.001)

	life := tr.Lifetime("a")
	assert.Equal(t, int64(3), life.TotalRequests)
	assert.Equal(t, int64(1), life.Failures)
}

func TestMetricsTracker_IgnoresUnresolved(t *testing.T) {
	tr := NewMetricsTracker(0, nil)
	tr.Record(InvocationRecord{ToolName: "missing", ErrorKind: ErrorKindNotFound})

	assert.Empty(t, tr.All())
	assert.Equal(t, DefaultMetricsWindow, tr.Window())
}

func TestMetricsTracker_EmptyAndForget(t *testing.T) {
	tr := NewMetricsTracker(time.Minute, nil)

	agg := tr.Aggregate("nobody")
	assert.Zero(t, agg.TotalRequests)
	assert.Zero(t, agg.ErrorRate())

	tr.Record(InvocationRecord{ServerID: "a", Success: true})
	assert.Contains(t, tr.All(), "a")
	tr.Forget("a")
	assert.NotContains(t, tr.All(), "a")
}
