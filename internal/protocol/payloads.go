// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package protocol

import (
	"encoding/json"
	"time"

	"github.com/ngfw-io/router-agent/internal/config"
)

// AuthPayload authenticates the connection. APIKey is write-only on the
// wire: it is never echoed back in any subsequent envelope.
type AuthPayload struct {
	DeviceID        string `json:"device_id"`
	APIKey          string `json:"api_key"`
	FirmwareVersion string `json:"firmware_version"`
	AgentVersion    string `json:"agent_version"`
}

// AuthFailPayload explains why AUTH was rejected and whether retrying with
// the same credentials is pointless.
type AuthFailPayload struct {
	Reason    string `json:"reason"`
	Permanent bool   `json:"permanent"`
}

// StatusPayload reports agent liveness and current mode state.
type StatusPayload struct {
	Mode      config.Mode                    `json:"mode"`
	Overrides map[config.Section]config.Mode `json:"overrides,omitempty"`
	Connected time.Time                      `json:"connected_since"`
}

// MetricsPayload carries one Collector tick's gathered samples, keyed by
// section, plus a single envelope-level timestamp set by the Collector at
// send time.
type MetricsPayload struct {
	Timestamp time.Time                          `json:"timestamp"`
	Sections  map[config.Section]json.RawMessage `json:"sections"`
}

// ConfigPushPayload carries a full or partial configuration document for one
// section to be validated, diffed and (mode permitting) applied.
type ConfigPushPayload struct {
	Section config.Section `json:"section"`
	Version int64          `json:"version"`
	Config  []byte         `json:"config"`
}

// ApplyOutcome describes the result of handling one CONFIG_PUSH.
type ApplyOutcome string

const (
	OutcomeUnknownSection   ApplyOutcome = "unknown_section"
	OutcomeAcknowledgedOnly ApplyOutcome = "acknowledged_only"
	OutcomeValidated        ApplyOutcome = "validated"
	OutcomeRejected         ApplyOutcome = "rejected"
	OutcomeApplied          ApplyOutcome = "applied"
	OutcomeApplyFailed      ApplyOutcome = "apply_failed"
)

// Issue describes one validation finding for a CONFIG_PUSH.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Message  string `json:"message"`
}

// ConfigAckPayload is the reply to a CONFIG_PUSH.
type ConfigAckPayload struct {
	Section    Section      `json:"section"`
	Version    int64        `json:"version"`
	Outcome    ApplyOutcome `json:"outcome"`
	Issues     []Issue      `json:"issues,omitempty"`
	Diff       string       `json:"diff,omitempty"`
	Error      string       `json:"error,omitempty"`
	RolledBack bool         `json:"rolled_back,omitempty"`
}

// Section is an alias kept for wire-shape symmetry with config.Section.
type Section = config.Section

// ExecPayload requests execution of an allowlisted command. Argv[0] is
// resolved by basename against the mode-selected allowlist; no shell
// interpretation is ever performed.
type ExecPayload struct {
	Argv      []string `json:"argv"`
	Stdin     string   `json:"stdin,omitempty"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
}

// ExecResultPayload is the reply to EXEC.
type ExecResultPayload struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Exit       int    `json:"exit"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// ModeUpdatePayload requests a change to the default mode or a per-section
// override.
type ModeUpdatePayload struct {
	Default   *config.Mode                   `json:"default,omitempty"`
	Overrides map[config.Section]config.Mode `json:"overrides,omitempty"`
}

// ModeAckPayload is the reply to MODE_UPDATE.
type ModeAckPayload struct {
	Default   config.Mode                    `json:"default"`
	Overrides map[config.Section]config.Mode `json:"overrides,omitempty"`
}

// LogPayload forwards a structured log record to the control plane.
type LogPayload struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// AlertPayload reports an operator-facing condition, such as a section left
// inconsistent after a failed rollback.
type AlertPayload struct {
	Section config.Section `json:"section,omitempty"`
	Reason  string         `json:"reason"`
}
