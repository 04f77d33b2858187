// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package metrics exposes an in-process Prometheus registry of agent
// operational counters (reconnects, mode denials, apply outcomes, exec
// rejections, collector cycles), served on a loopback-only debug port that
// is only opened when [agent].debug is set. It is an operator diagnostic
// aid, never part of the 3-flag CLI surface or the cloud-facing protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge/histogram the agent records, all bound
// to a private registry rather than the global default so multiple agents
// (or tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	ReconnectsTotal       prometheus.Counter
	ConnectionState       *prometheus.GaugeVec
	ModeDeniedTotal       *prometheus.CounterVec
	ConfigOutcomesTotal   *prometheus.CounterVec
	ExecRejectedTotal     *prometheus.CounterVec
	ExecExecutedTotal     *prometheus.CounterVec
	CollectorCycleSeconds prometheus.Histogram
	CollectorDroppedTotal prometheus.Counter
	RollbackAlertsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers the agent's metric set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_reconnects_total",
			Help: "Number of times the connection to the control plane was re-established.",
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_connection_state",
			Help: "1 for the connection's current lifecycle state, 0 for all others.",
		}, []string{"state"}),
		ModeDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_mode_denied_total",
			Help: "Operations rejected by the mode engine, by section and operation.",
		}, []string{"section", "op"}),
		ConfigOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_config_push_outcomes_total",
			Help: "CONFIG_PUSH replies, by section and outcome.",
		}, []string{"section", "outcome"}),
		ExecRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_exec_rejected_total",
			Help: "EXEC requests rejected before spawning, by reason.",
		}, []string{"reason"}),
		ExecExecutedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_exec_executed_total",
			Help: "EXEC requests that spawned a process, by command basename.",
		}, []string{"command"}),
		CollectorCycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_collector_cycle_seconds",
			Help:    "Wall time to gather one METRICS sample across all adapters.",
			Buckets: prometheus.DefBuckets,
		}),
		CollectorDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_collector_samples_dropped_total",
			Help: "METRICS samples dropped because no connection was Connected or the outbound queue was full.",
		}),
		RollbackAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_rollback_alerts_total",
			Help: "ALERT envelopes emitted for sections left inconsistent after a failed rollback or with an unreadable rollback snapshot.",
		}, []string{"section"}),
	}

	reg.MustRegister(
		m.ReconnectsTotal,
		m.ConnectionState,
		m.ModeDeniedTotal,
		m.ConfigOutcomesTotal,
		m.ExecRejectedTotal,
		m.ExecExecutedTotal,
		m.CollectorCycleSeconds,
		m.CollectorDroppedTotal,
		m.RollbackAlertsTotal,
	)

	return m
}

// Registry returns the private registry backing m, for the debug HTTP
// handler to serve.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
