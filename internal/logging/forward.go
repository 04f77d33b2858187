// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package logging

import (
	"context"
	"log/slog"

	"github.com/ngfw-io/router-agent/internal/protocol"
)

// ForwardingHandler wraps another slog.Handler and additionally surfaces
// warn-and-above records to the control plane as LOG envelopes, so an
// operator watching the cloud side sees the same warnings the router's own
// log file does without tailing it directly.
type ForwardingHandler struct {
	slog.Handler
	outbound chan<- protocol.Envelope
}

// NewForwardingHandler wraps base, forwarding onto outbound.
func NewForwardingHandler(base slog.Handler, outbound chan<- protocol.Envelope) *ForwardingHandler {
	return &ForwardingHandler{Handler: base, outbound: outbound}
}

// Handle forwards r to base, then, if r is at least Warn, attempts to
// enqueue it as a LOG envelope. The enqueue is best-effort: blocking here
// would let a logging call deadlock whatever component issued it if the
// outbound queue is already stuck full, which is a worse outcome than
// losing one LOG line to the control plane.
func (h *ForwardingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn && h.outbound != nil {
		attrs := make(map[string]string)
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.String()
			return true
		})
		if env, err := protocol.New(protocol.TypeLog, protocol.LogPayload{
			Level:   r.Level.String(),
			Message: r.Message,
			Attrs:   attrs,
		}); err == nil {
			select {
			case h.outbound <- env:
			default:
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs preserves forwarding across derived loggers (logger.With(...)).
func (h *ForwardingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ForwardingHandler{Handler: h.Handler.WithAttrs(attrs), outbound: h.outbound}
}

// WithGroup preserves forwarding across derived loggers (logger.WithGroup(...)).
func (h *ForwardingHandler) WithGroup(name string) slog.Handler {
	return &ForwardingHandler{Handler: h.Handler.WithGroup(name), outbound: h.outbound}
}
