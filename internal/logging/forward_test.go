// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package logging_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ngfw-io/router-agent/internal/logging"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardingHandler_ForwardsWarnAndAbove(t *testing.T) {
	outbound := make(chan protocol.Envelope, 4)
	base := slog.NewJSONHandler(io.Discard, nil)
	logger := slog.New(logging.NewForwardingHandler(base, outbound))

	logger.Warn("disk nearly full", "section", "firewall")

	select {
	case env := <-outbound:
		require.Equal(t, protocol.TypeLog, env.Type)
		var payload protocol.LogPayload
		require.NoError(t, env.Decode(&payload))
		assert.Equal(t, "WARN", payload.Level)
		assert.Equal(t, "disk nearly full", payload.Message)
		assert.Equal(t, "firewall", payload.Attrs["section"])
	default:
		t.Fatal("expected a LOG envelope to be forwarded")
	}
}

func TestForwardingHandler_DoesNotForwardBelowWarn(t *testing.T) {
	outbound := make(chan protocol.Envelope, 4)
	base := slog.NewJSONHandler(io.Discard, nil)
	logger := slog.New(logging.NewForwardingHandler(base, outbound))

	logger.Info("routine status check")

	select {
	case env := <-outbound:
		t.Fatalf("expected no forwarded envelope for an Info log, got %v", env.Type)
	default:
	}
}

func TestForwardingHandler_NonBlockingOnFullQueue(t *testing.T) {
	outbound := make(chan protocol.Envelope) // unbuffered, nothing ever reads it
	base := slog.NewJSONHandler(io.Discard, nil)
	logger := slog.New(logging.NewForwardingHandler(base, outbound))

	done := make(chan struct{})
	go func() {
		logger.Error("control plane unreachable")
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // the call above must return promptly even though outbound is never drained
}

func TestForwardingHandler_WithAttrsPreservesForwarding(t *testing.T) {
	outbound := make(chan protocol.Envelope, 4)
	base := slog.NewJSONHandler(io.Discard, nil)
	logger := slog.New(logging.NewForwardingHandler(base, outbound)).With("component", "dispatcher")

	logger.Warn("mode denied")

	select {
	case env := <-outbound:
		var payload protocol.LogPayload
		require.NoError(t, env.Decode(&payload))
		assert.Equal(t, "dispatcher", payload.Attrs["component"])
	default:
		t.Fatal("expected a LOG envelope to be forwarded from a derived logger")
	}
}
