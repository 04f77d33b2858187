// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package collector periodically gathers a metrics sample from every
// registered adapter and emits it as a single METRICS envelope, and runs a
// daily sweep of the rollback store for corrupted snapshots. Both are gocron
// jobs, grounded on the teacher's scheduler setup in cmd/root.go and the
// netscheduler package's per-job task registration.
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ngfw-io/router-agent/internal/adapter"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/connection"
	"github.com/ngfw-io/router-agent/internal/metrics"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/ngfw-io/router-agent/internal/rollback"
)

// perAdapterTimeout bounds how long a single adapter's CollectMetrics may run
// before the Collector gives up on it for that tick and moves on.
const perAdapterTimeout = 2 * time.Second

// linkState reports whether the transport is currently usable. It is
// satisfied by *connection.Connection; tests substitute a fake so they don't
// need a real WebSocket dial to exercise the "not connected" drop path.
type linkState interface {
	State() connection.State
}

// Collector owns the gocron scheduler driving periodic METRICS emission and
// the daily rollback integrity sweep.
type Collector struct {
	logger    *slog.Logger
	scheduler gocron.Scheduler
	adapters  *adapter.Registry
	rollback  *rollback.Store
	metrics   *metrics.Metrics // nil is valid: metrics are optional instrumentation.
	conn      linkState
	outbound  chan<- protocol.Envelope
	interval  time.Duration
}

// New constructs a Collector. m may be nil when metrics collection is
// disabled.
func New(logger *slog.Logger, adapters *adapter.Registry, store *rollback.Store, m *metrics.Metrics, conn linkState, outbound chan<- protocol.Envelope, interval time.Duration) (*Collector, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create collector scheduler: %w", err)
	}
	return &Collector{
		logger:    logger.With("component", "collector"),
		scheduler: scheduler,
		adapters:  adapters,
		rollback:  store,
		metrics:   m,
		conn:      conn,
		outbound:  outbound,
		interval:  interval,
	}, nil
}

// Start registers the metrics tick and daily integrity sweep jobs and starts
// the scheduler. Job callbacks run against context.Background(), per the
// teacher's netscheduler convention, since gocron jobs run as background
// work independent of any single request or startup context.
func (c *Collector) Start() error {
	if _, err := c.scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(c.tick, context.Background()),
		gocron.WithName("metrics-tick"),
	); err != nil {
		return fmt.Errorf("failed to schedule metrics tick: %w", err)
	}

	if _, err := c.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(c.integritySweep, context.Background()),
		gocron.WithName("rollback-integrity-sweep"),
	); err != nil {
		return fmt.Errorf("failed to schedule rollback integrity sweep: %w", err)
	}

	c.scheduler.Start()
	return nil
}

// Stop halts all jobs and shuts the scheduler down.
func (c *Collector) Stop() error {
	if err := c.scheduler.StopJobs(); err != nil {
		c.logger.Error("failed to stop collector jobs", "error", err)
	}
	if err := c.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down collector scheduler: %w", err)
	}
	return nil
}

// tick gathers one sample per registered adapter and emits a single METRICS
// envelope, timestamped once at send time (spec §9(b)). The sample is
// dropped — not queued — when the connection isn't Connected or the
// outbound channel is full, since a stale metrics sample is worse than a
// gap in one.
func (c *Collector) tick(ctx context.Context) {
	if c.conn.State() != connection.Connected {
		c.drop("connection not established")
		return
	}

	start := time.Now()
	sections := make(map[config.Section]json.RawMessage, len(c.adapters.Sections()))

	for _, section := range c.adapters.Sections() {
		a, ok := c.adapters.Get(section)
		if !ok {
			continue
		}

		collectCtx, cancel := context.WithTimeout(ctx, perAdapterTimeout)
		sample, err := a.CollectMetrics(collectCtx)
		cancel()
		if err != nil {
			c.logger.Warn("adapter metrics collection failed, skipping section this tick", "section", section, "error", err)
			continue
		}

		raw, err := json.Marshal(sample)
		if err != nil {
			c.logger.Warn("failed to marshal adapter metrics sample", "section", section, "error", err)
			continue
		}
		sections[section] = raw
	}

	if c.metrics != nil {
		c.metrics.CollectorCycleSeconds.Observe(time.Since(start).Seconds())
	}

	env, err := protocol.New(protocol.TypeMetrics, protocol.MetricsPayload{
		Timestamp: time.Now(),
		Sections:  sections,
	})
	if err != nil {
		c.logger.Error("failed to build METRICS envelope", "error", err)
		return
	}

	select {
	case c.outbound <- env:
	default:
		c.drop("outbound queue full")
	}
}

func (c *Collector) drop(reason string) {
	c.logger.Warn("dropped METRICS sample", "reason", reason)
	if c.metrics != nil {
		c.metrics.CollectorDroppedTotal.Inc()
	}
}

// integritySweep checks every retained rollback snapshot and raises an ALERT
// for any section whose snapshot fails to decode, so an operator learns
// about corruption without waiting for a CONFIG_PUSH to that section.
func (c *Collector) integritySweep(ctx context.Context) {
	for _, section := range c.rollback.CheckIntegrity() {
		c.logger.Warn("rollback integrity sweep found unreadable snapshot", "section", section)
		if c.metrics != nil {
			c.metrics.RollbackAlertsTotal.WithLabelValues(section).Inc()
		}

		env, err := protocol.New(protocol.TypeAlert, protocol.AlertPayload{
			Section: config.Section(section),
			Reason:  "rollback snapshot failed integrity check",
		})
		if err != nil {
			c.logger.Error("failed to build integrity-sweep ALERT", "error", err)
			continue
		}

		select {
		case c.outbound <- env:
		case <-ctx.Done():
			return
		}
	}
}
