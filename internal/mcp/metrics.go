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
	"time"
)

const (
	// DefaultMetricsWindow is the trailing window aggregates are computed over.
	DefaultMetricsWindow = 5 * time.Minute

	maxSamplesPerServer = 10000
)

type sample struct {
	at        time.Time
	success   bool
	latencyMs int64
}

type serverSamples struct {
	samples []sample

	total     int64
	successes int64
	latencyMs int64
}

// MetricsTracker aggregates invocation records per server over a trailing
// window, plus lifetime totals. Records without a server are ignored.
type MetricsTracker struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	servers map[string]*serverSamples
}

// NewMetricsTracker creates a tracker. Zero window uses DefaultMetricsWindow.
func NewMetricsTracker(window time.Duration, now func() time.Time) *MetricsTracker {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	if now == nil {
		now = time.Now
	}
	return &MetricsTracker{window: window, now: now, servers: make(map[string]*serverSamples)}
}

// Window returns the aggregation window.
func (t *MetricsTracker) Window() time.Duration {
	return t.window
}

// Record adds one invocation.
func (t *MetricsTracker) Record(rec InvocationRecord) {
	// Rejected calls never reached the server.
	if rec.ServerID == "" || rec.ErrorKind == ErrorKindInvalidArguments {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.servers[rec.ServerID]
	if !ok {
		s = &serverSamples{}
		t.servers[rec.ServerID] = s
	}

	at := rec.Timestamp
	if at.IsZero() {
		at = t.now()
	}
	s.samples = append(s.samples, sample{at: at, success: rec.Success, latencyMs: rec.LatencyMs})
	if len(s.samples) > maxSamplesPerServer {
		s.samples = append(s.samples[:0:0], s.samples[len(s.samples)-maxSamplesPerServer:]...)
	}

	s.total++
	s.latencyMs += rec.LatencyMs
	if rec.Success {
		s.successes++
	}
}

// Aggregate returns the windowed aggregate for a server.
func (t *MetricsTracker) Aggregate(serverID string) MetricsAggregate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aggregateLocked(serverID)
}

// Lifetime returns totals since the server was first seen.
func (t *MetricsTracker) Lifetime(serverID string) MetricsAggregate {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := MetricsAggregate{ServerID: serverID}
	s, ok := t.servers[serverID]
	if !ok {
		return agg
	}
	agg.TotalRequests = s.total
	agg.Successes = s.successes
	agg.Failures = s.total - s.successes
	if s.total > 0 {
		agg.AverageLatencyMs = float64(s.latencyMs) / float64(s.total)
	}
	return agg
}

// All returns the windowed aggregate of every server seen so far.
func (t *MetricsTracker) All() map[string]MetricsAggregate {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]MetricsAggregate, len(t.servers))
	for id := range t.servers {
		out[id] = t.aggregateLocked(id)
	}
	return out
}

// Forget drops a server's samples.
func (t *MetricsTracker) Forget(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.servers, serverID)
}

func (t *MetricsTracker) aggregateLocked(serverID string) MetricsAggregate {
	agg := MetricsAggregate{ServerID: serverID, Window: t.window}
	s, ok := t.servers[serverID]
	if !ok {
		return agg
	}

	cutoff := t.now().Add(-t.window)
	keep := 0
	for keep < len(s.samples) && s.samples[keep].at.Before(cutoff) {
		keep++
	}
	s.samples = s.samples[keep:]

	var latency int64
	for _, smp := range s.samples {
		agg.TotalRequests++
		latency += smp.latencyMs
		if smp.success {
			agg.Successes++
		} else {
			agg.Failures++
		}
	}
	if agg.TotalRequests > 0 {
		agg.AverageLatencyMs = float64(latency) / float64(agg.TotalRequests)
	}
	return agg
}
