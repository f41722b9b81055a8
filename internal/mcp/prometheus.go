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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []State{StateDisabled, StateDisconnected, StateConnecting, StateConnected, StateError}

// Metrics holds the Prometheus collectors for connections and invocations.
// A nil *Metrics records nothing.
type Metrics struct {
	serverState     *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	invocations     *prometheus.CounterVec
	invocationTime  *prometheus.HistogramVec
	catalogTools    prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		serverState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolhub_server_state",
				Help: "Connection state per server (1 for the current state)",
			},
			[]string{"server", "state"},
		),
		connectAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhub_connect_attempts_total",
				Help: "Connect attempts by server and result",
			},
			[]string{"server", "result"},
		),
		connectDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhub_connect_duration_seconds",
				Help:    "Time to spawn, handshake, and discover a server",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		invocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolhub_invocations_total",
				Help: "Tool invocations by server and outcome",
			},
			[]string{"server", "outcome"},
		),
		invocationTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolhub_invocation_duration_seconds",
				Help:    "Tool invocation latency",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server"},
		),
		catalogTools: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "toolhub_catalog_tools",
				Help: "Number of tools currently exposed by the catalog",
			},
		),
	}
}

func (m *Metrics) setState(server string, state State) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.serverState.WithLabelValues(server, string(s)).Set(v)
	}
}

func (m *Metrics) forget(server string) {
	if m == nil {
		return
	}
	for _, s := range allStates {
		m.serverState.DeleteLabelValues(server, string(s))
	}
}

func (m *Metrics) observeConnect(server string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.connectAttempts.WithLabelValues(server, result).Inc()
	m.connectDuration.WithLabelValues(server).Observe(d.Seconds())
}

func (m *Metrics) observeInvocation(rec InvocationRecord) {
	if m == nil {
		return
	}
	server := rec.ServerID
	if server == "" {
		server = "none"
	}
	outcome := "success"
	if !rec.Success {
		outcome = string(rec.ErrorKind)
	}
	m.invocations.WithLabelValues(server, outcome).Inc()
	if rec.ServerID != "" {
		m.invocationTime.WithLabelValues(server).Observe(float64(rec.LatencyMs) / 1000)
	}
}

func (m *Metrics) setCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogTools.Set(float64(n))
}
