// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes Prometheus instrumentation for tool invocations,
// authentication attempts and command execution.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace   = "remotectl"
	maxLabelLen = 64
)

// Metrics owns a private registry so that several instances can coexist.
type Metrics struct {
	registry *prometheus.Registry

	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	authAttempts    *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool invocation latency",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"tool"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "elevation",
				Name:      "auth_attempts_total",
				Help:      "Authentication attempts by result",
			},
			[]string{"result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "commands_total",
				Help:      "Commands by elevation and outcome",
			},
			[]string{"elevated", "outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "runner",
				Name:      "command_duration_seconds",
				Help:      "Command wall time by elevation",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"elevated"},
		),
	}

	m.registry.MustRegister(
		m.toolInvocations,
		m.toolDuration,
		m.authAttempts,
		m.commands,
		m.commandDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterSessionGauge exports 1 while valid reports true.
func (m *Metrics) RegisterSessionGauge(valid func() bool) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "elevation",
			Name:      "session_valid",
			Help:      "1 while an elevation session is valid",
		},
		func() float64 {
			if valid() {
				return 1
			}
			return 0
		},
	))
}

// ToolInvoked records one tool invocation.
func (m *Metrics) ToolInvoked(tool, outcome string, duration time.Duration) {
	m.toolInvocations.WithLabelValues(sanitizeLabel(tool), sanitizeLabel(outcome)).Inc()
	m.toolDuration.WithLabelValues(sanitizeLabel(tool)).Observe(duration.Seconds())
}

// AuthAttempt records an authentication result.
func (m *Metrics) AuthAttempt(success bool) {
	result := "rejected"
	if success {
		result = "accepted"
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

// CommandFinished records one runner invocation.
func (m *Metrics) CommandFinished(elevated bool, outcome string, duration time.Duration) {
	label := "false"
	if elevated {
		label = "true"
	}
	m.commands.WithLabelValues(label, sanitizeLabel(outcome)).Inc()
	m.commandDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}
