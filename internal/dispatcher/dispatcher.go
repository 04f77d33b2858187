// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package dispatcher routes inbound envelopes to their handlers, enforces
// the mode engine's gating on every config-apply and command-execution
// request, and produces reply envelopes onto the outbound channel. It is
// grounded on the teacher's internal/dmr/servers/mmdvm packet-handler
// table: one goroutine per inbound message so a slow handler never blocks
// the read loop, replies serialized in completion order rather than
// request order.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngfw-io/router-agent/internal/adapter"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/execpipe"
	"github.com/ngfw-io/router-agent/internal/metrics"
	"github.com/ngfw-io/router-agent/internal/mode"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/ngfw-io/router-agent/internal/rollback"
	"github.com/ngfw-io/router-agent/internal/tracing"
)

// Dispatcher is the only caller of the registered Adapters' configuration
// methods and the sole writer of the rollback store; the Collector only
// gathers adapter metrics and checks the store's integrity.
type Dispatcher struct {
	logger   *slog.Logger
	adapters *adapter.Registry
	mode     *mode.Engine
	rollback *rollback.Store
	metrics  *metrics.Metrics // nil is valid: metrics are optional instrumentation.

	versions   *xsync.Map[config.Section, int64]
	lastHashes *xsync.Map[config.Section, uint64]
	applyLocks *xsync.Map[config.Section, *sync.Mutex]
}

// New constructs a Dispatcher. m may be nil when metrics collection is
// disabled.
func New(logger *slog.Logger, adapters *adapter.Registry, modeEngine *mode.Engine, store *rollback.Store, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		logger:     logger.With("component", "dispatcher"),
		adapters:   adapters,
		mode:       modeEngine,
		rollback:   store,
		metrics:    m,
		versions:   xsync.NewMap[config.Section, int64](),
		lastHashes: xsync.NewMap[config.Section, uint64](),
		applyLocks: xsync.NewMap[config.Section, *sync.Mutex](),
	}
}

// Run consumes inbound envelopes until ctx is cancelled or inbound is
// closed, completing every already-running handler before returning (spec
// §5's "stop reading new inbound, complete in-flight handlers").
func (d *Dispatcher) Run(ctx context.Context, inbound <-chan protocol.Envelope, outbound chan<- protocol.Envelope) {
	d.reconcileOnStartup(ctx, outbound)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbound:
			if !ok {
				return
			}
			wg.Add(1)
			go func(e protocol.Envelope) {
				defer wg.Done()
				d.handle(ctx, e, outbound)
			}(env)
		}
	}
}

// reconcileOnStartup raises an ALERT for every section whose rollback
// snapshot on disk fails to decode (as reported by CheckIntegrity).
// Readable snapshots, including ones left by an apply interrupted by a
// crash, produce no ALERT. The envelope queues onto outbound and is
// delivered whenever Connection next reaches Connected.
func (d *Dispatcher) reconcileOnStartup(ctx context.Context, outbound chan<- protocol.Envelope) {
	for _, section := range d.rollback.CheckIntegrity() {
		d.logger.Warn("rollback snapshot unreadable at startup, section may be inconsistent", "section", section)
		env, err := protocol.New(protocol.TypeAlert, protocol.AlertPayload{
			Section: config.Section(section),
			Reason:  "rollback snapshot corrupt or apply interrupted by restart",
		})
		if err != nil {
			d.logger.Error("failed to build startup ALERT envelope", "error", err)
			continue
		}
		if d.metrics != nil {
			d.metrics.RollbackAlertsTotal.WithLabelValues(section).Inc()
		}
		d.send(ctx, outbound, env)
	}
}

// handle dispatches one envelope per spec §4.2's handler table, wrapped in
// a span so per-envelope handling latency is visible in the same trace as
// the connection's auth handshake when OTLP export is configured.
func (d *Dispatcher) handle(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope) {
	ctx, span := tracing.Tracer().Start(ctx, "dispatcher.handle",
		trace.WithAttributes(
			attribute.String("envelope.type", string(env.Type)),
			attribute.String("envelope.id", env.ID),
		))
	defer span.End()

	switch env.Type {
	case protocol.TypePing:
		d.handlePing(ctx, env, outbound)
	case protocol.TypeConfigPush:
		d.handleConfigPush(ctx, env, outbound)
	case protocol.TypeExec:
		d.handleExec(ctx, env, outbound)
	case protocol.TypeModeUpdate:
		d.handleModeUpdate(ctx, env, outbound)
	case protocol.TypeStatusOK, protocol.TypeAuthOK:
		// Observed only, consumed by the connection state machine; no reply.
	default:
		d.logger.Warn("unhandled envelope type", "type", env.Type, "id", env.ID)
	}
}

// send delivers env onto outbound, blocking until it is accepted or ctx is
// cancelled. Every dispatcher reply is control-plane traffic (CONFIG_ACK,
// EXEC_RESULT, MODE_ACK, ALERT) rather than droppable telemetry, so unlike
// the Collector it never take the non-blocking path.
func (d *Dispatcher) send(ctx context.Context, outbound chan<- protocol.Envelope, env protocol.Envelope) {
	select {
	case outbound <- env:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) handlePing(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope) {
	reply, err := protocol.Reply(env, protocol.TypePong, struct{}{})
	if err != nil {
		d.logger.Error("failed to build PONG", "error", err)
		return
	}
	d.send(ctx, outbound, reply)
}

func (d *Dispatcher) lockFor(section config.Section) *sync.Mutex {
	lock, _ := d.applyLocks.LoadOrStore(section, &sync.Mutex{})
	return lock
}

// handleConfigPush implements the apply pipeline of spec §4.5.
func (d *Dispatcher) handleConfigPush(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope) {
	var req protocol.ConfigPushPayload
	if err := env.Decode(&req); err != nil {
		d.logger.Warn("malformed CONFIG_PUSH dropped", "error", err)
		return
	}

	a, ok := d.adapters.Get(req.Section)
	if !ok {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeUnknownSection,
		})
		return
	}

	effective := d.mode.Effective(req.Section)
	switch effective {
	case config.ModeObserve:
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeAcknowledgedOnly,
		})

	case config.ModeShadow:
		d.handleShadowPush(ctx, env, outbound, a, req)

	case config.ModeTakeover:
		d.handleTakeoverPush(ctx, env, outbound, a, req)

	default:
		d.logger.Error("unrecognized effective mode", "section", req.Section, "mode", effective)
	}
}

func (d *Dispatcher) handleShadowPush(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope, a adapter.Adapter, req protocol.ConfigPushPayload) {
	candidate, err := a.Validate(req.Config)
	if err != nil {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeValidated,
			Issues:  []protocol.Issue{{Severity: "error", Message: err.Error()}},
		})
		return
	}

	var diff string
	if live, err := a.Read(ctx); err == nil {
		diff = a.Diff(live, candidate)
	} else {
		d.logger.Warn("failed to read live config for diff", "section", req.Section, "error", err)
	}

	d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
		Section: req.Section,
		Version: req.Version,
		Outcome: protocol.OutcomeValidated,
		Diff:    diff,
	})
}

func (d *Dispatcher) handleTakeoverPush(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope, a adapter.Adapter, req protocol.ConfigPushPayload) {
	candidate, err := a.Validate(req.Config)
	if err != nil {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeRejected,
			Issues:  []protocol.Issue{{Severity: "error", Message: err.Error()}},
		})
		return
	}

	lock := d.lockFor(req.Section)
	lock.Lock()
	defer lock.Unlock()

	if hash, err := adapter.Hash(candidate); err == nil {
		if prior, ok := d.lastHashes.Load(req.Section); ok && prior == hash {
			d.versions.Store(req.Section, req.Version)
			d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
				Section: req.Section,
				Version: req.Version,
				Outcome: protocol.OutcomeApplied,
			})
			return
		}
	} else {
		d.logger.Warn("failed to hash candidate config, skipping short-circuit", "section", req.Section, "error", err)
	}

	live, err := a.Read(ctx)
	if err != nil {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeApplyFailed,
			Error:   fmt.Sprintf("failed to snapshot current config: %v", err),
		})
		return
	}

	liveBytes, err := json.Marshal(live)
	if err != nil {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeApplyFailed,
			Error:   fmt.Sprintf("failed to serialize snapshot: %v", err),
		})
		return
	}

	prevVersion, _ := d.versions.Load(req.Section)

	// The rollback record is written before Apply starts, per spec §4.5(b):
	// a crash mid-apply must still leave a usable pre-apply snapshot.
	if err := d.rollback.Snapshot(ctx, string(req.Section), prevVersion, liveBytes); err != nil {
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section: req.Section,
			Version: req.Version,
			Outcome: protocol.OutcomeApplyFailed,
			Error:   fmt.Sprintf("failed to write rollback snapshot: %v", err),
		})
		return
	}

	if err := a.Apply(ctx, candidate); err != nil {
		// Restore the pre-apply state from the rollback store itself (the
		// durable record written above) rather than the in-memory `live`
		// value, so a rollback reflects whatever is actually on disk even
		// if this goroutine's view of it is stale.
		snapshotVal := live
		if rec, restoreErr := d.rollback.Restore(ctx, string(req.Section)); restoreErr != nil {
			d.logger.Warn("failed to read back rollback snapshot, rolling back from in-memory read instead", "section", req.Section, "error", restoreErr)
		} else if decoded, decodeErr := a.Validate(rec.Config); decodeErr != nil {
			d.logger.Warn("failed to decode rollback snapshot, rolling back from in-memory read instead", "section", req.Section, "error", decodeErr)
		} else {
			snapshotVal = decoded
		}

		rolledBack := true
		if rbErr := a.Rollback(ctx, snapshotVal); rbErr != nil {
			rolledBack = false
			d.logger.Error("rollback after failed apply also failed, section inconsistent", "section", req.Section, "apply_error", err, "rollback_error", rbErr)
			d.emitInconsistentAlert(ctx, outbound, req.Section, rbErr)
		} else if forgetErr := d.rollback.Forget(ctx, string(req.Section)); forgetErr != nil {
			// The record persisting here is harmless (the next apply
			// overwrites it) but worth a log line since §3 calls for the
			// store to clear it once a rollback has consumed it.
			d.logger.Warn("failed to forget rollback snapshot after successful rollback", "section", req.Section, "error", forgetErr)
		}
		d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
			Section:    req.Section,
			Version:    req.Version,
			Outcome:    protocol.OutcomeApplyFailed,
			Error:      err.Error(),
			RolledBack: rolledBack,
		})
		return
	}

	d.versions.Store(req.Section, req.Version)
	if hash, hashErr := adapter.Hash(candidate); hashErr == nil {
		d.lastHashes.Store(req.Section, hash)
	}
	d.replyConfigAck(ctx, env, outbound, protocol.ConfigAckPayload{
		Section: req.Section,
		Version: req.Version,
		Outcome: protocol.OutcomeApplied,
	})
}

func (d *Dispatcher) emitInconsistentAlert(ctx context.Context, outbound chan<- protocol.Envelope, section config.Section, rollbackErr error) {
	if d.metrics != nil {
		d.metrics.RollbackAlertsTotal.WithLabelValues(string(section)).Inc()
	}
	env, err := protocol.New(protocol.TypeAlert, protocol.AlertPayload{
		Section: section,
		Reason:  fmt.Sprintf("rollback failed, section left inconsistent: %v", rollbackErr),
	})
	if err != nil {
		d.logger.Error("failed to build inconsistent-section ALERT", "error", err)
		return
	}
	d.send(ctx, outbound, env)
}

func (d *Dispatcher) replyConfigAck(ctx context.Context, req protocol.Envelope, outbound chan<- protocol.Envelope, payload protocol.ConfigAckPayload) {
	if d.metrics != nil {
		d.metrics.ConfigOutcomesTotal.WithLabelValues(string(payload.Section), string(payload.Outcome)).Inc()
	}
	reply, err := protocol.Reply(req, protocol.TypeConfigAck, payload)
	if err != nil {
		d.logger.Error("failed to build CONFIG_ACK", "error", err)
		return
	}
	d.send(ctx, outbound, reply)
}

// handleExec implements the command execution pipeline of spec §4.6. EXEC
// carries no section, so the allowlist gate uses the agent's default mode
// rather than a per-section override (spec §9 leaves this an
// implementation choice; see DESIGN.md).
func (d *Dispatcher) handleExec(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope) {
	var req protocol.ExecPayload
	if err := env.Decode(&req); err != nil {
		d.logger.Warn("malformed EXEC dropped", "error", err)
		return
	}

	effective, _ := d.mode.Current()

	result := execpipe.Run(ctx, execpipe.Request{
		Argv:    req.Argv,
		Stdin:   []byte(req.Stdin),
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	}, effective)

	if d.metrics != nil {
		if result.Denied {
			d.metrics.ExecRejectedTotal.WithLabelValues(result.DenyReason).Inc()
			if effective == config.ModeObserve {
				// In observe the allowlist is empty by construction (spec
				// §4.6 step 2), so every rejection here is a mode denial
				// rather than a command genuinely missing from a populated
				// allowlist.
				d.metrics.ModeDeniedTotal.WithLabelValues("", "execute_command").Inc()
			}
		} else if len(req.Argv) > 0 {
			d.metrics.ExecExecutedTotal.WithLabelValues(req.Argv[0]).Inc()
		}
	}

	payload := protocol.ExecResultPayload{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Exit:       result.ExitCode,
		DurationMS: result.DurationMS,
		Truncated:  result.Truncated,
		TimedOut:   result.TimedOut,
	}
	if result.Denied {
		payload.Stderr = result.DenyReason
	}

	reply, err := protocol.Reply(env, protocol.TypeExecResult, payload)
	if err != nil {
		d.logger.Error("failed to build EXEC_RESULT", "error", err)
		return
	}
	d.send(ctx, outbound, reply)
}

// handleModeUpdate writes the requested mode change through to the mode
// engine and acknowledges with the resulting effective state.
func (d *Dispatcher) handleModeUpdate(ctx context.Context, env protocol.Envelope, outbound chan<- protocol.Envelope) {
	var req protocol.ModeUpdatePayload
	if err := env.Decode(&req); err != nil {
		d.logger.Warn("malformed MODE_UPDATE dropped", "error", err)
		return
	}

	var newDefault config.Mode
	if req.Default != nil {
		newDefault = *req.Default
	}
	replaceOverrides := req.Overrides != nil

	if err := d.mode.Apply(newDefault, req.Overrides, replaceOverrides); err != nil {
		d.logger.Warn("rejected MODE_UPDATE", "error", err)
		return
	}

	def, overrides := d.mode.Current()
	reply, err := protocol.Reply(env, protocol.TypeModeAck, protocol.ModeAckPayload{
		Default:   def,
		Overrides: overrides,
	})
	if err != nil {
		d.logger.Error("failed to build MODE_ACK", "error", err)
		return
	}
	d.send(ctx, outbound, reply)
}
