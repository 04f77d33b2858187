// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package agenterr defines the agent's error taxonomy so callers can
// distinguish transport, auth, protocol and mode-gating failures with
// errors.As instead of string matching.
package agenterr

import (
	"errors"
	"fmt"

	"github.com/ngfw-io/router-agent/internal/config"
)

// TransportError wraps a failure from the underlying WebSocket connection:
// dial failures, read/write errors, unexpected closes. It is always
// transient from the agent's perspective and triggers a reconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthFailed indicates the control plane rejected an AUTH envelope.
// Permanent failures (bad API key) terminate the process; transient ones
// (rate limiting, maintenance) trigger backoff and retry.
type AuthFailed struct {
	Reason    string
	Permanent bool
}

func (e *AuthFailed) Error() string {
	if e.Permanent {
		return fmt.Sprintf("auth failed permanently: %s", e.Reason)
	}
	return fmt.Sprintf("auth failed: %s", e.Reason)
}

// ProtocolError indicates a malformed or unexpected envelope was received:
// bad JSON, unknown discriminator, or a reply with no matching request.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}

// ModeDenied indicates an operation was rejected because the current mode
// (default or per-section override) does not permit it.
type ModeDenied struct {
	Section config.Section
	Op      string
	Mode    config.Mode
}

func (e *ModeDenied) Error() string {
	return fmt.Sprintf("operation %q on section %q denied in mode %q", e.Op, e.Section, e.Mode)
}

// As is a small convenience wrapper around errors.As for the common case of
// checking a single error value against one of the taxonomy's types.
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
