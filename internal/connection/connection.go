// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package connection maintains the agent's single authenticated full-duplex
// WebSocket channel to the cloud control plane: dial, AUTH handshake,
// keepalive, and automatic reconnect with exponential backoff and jitter.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngfw-io/router-agent/internal/agenterr"
	"github.com/ngfw-io/router-agent/internal/metrics"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/ngfw-io/router-agent/internal/tracing"
)

// State is one stage of the connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Dialing
	Authenticating
	Connected
	Closing
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Dialing:
		return "dialing"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// backoffBase is the initial reconnect delay before jitter.
	backoffBase = 1 * time.Second
	// backoffCap is the maximum reconnect delay before jitter.
	backoffCap = 60 * time.Second
	// DefaultAuthTimeout bounds how long the agent waits for AUTH_OK/AUTH_FAIL.
	DefaultAuthTimeout = 10 * time.Second
	// DefaultPingTimeout is the maximum silence on an established connection
	// before it is considered a dead link.
	DefaultPingTimeout = 90 * time.Second
	// keepaliveCheckInterval is how often the dead-link check runs.
	keepaliveCheckInterval = 1 * time.Second
	closeWriteTimeout      = 1 * time.Second
)

// Config parameterizes one Connection.
type Config struct {
	URL             string
	DeviceID        string
	APIKey          string
	FirmwareVersion string
	AgentVersion    string

	// AuthTimeout and PingTimeout override the package defaults; zero means
	// "use the default". Exposed for tests that want faster timeouts.
	AuthTimeout time.Duration
	PingTimeout time.Duration

	// Dialer overrides the default gorilla/websocket dialer; tests substitute
	// one dialing a local httptest server.
	Dialer *websocket.Dialer

	// Metrics is optional instrumentation; nil disables it.
	Metrics *metrics.Metrics
}

func (c Config) authTimeout() time.Duration {
	if c.AuthTimeout > 0 {
		return c.AuthTimeout
	}
	return DefaultAuthTimeout
}

func (c Config) pingTimeout() time.Duration {
	if c.PingTimeout > 0 {
		return c.PingTimeout
	}
	return DefaultPingTimeout
}

func (c Config) dialer() *websocket.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return websocket.DefaultDialer
}

// Connection owns the process's one outbound transport socket.
type Connection struct {
	cfg    Config
	logger *slog.Logger

	state    atomic.Int32
	failures atomic.Int32
}

// New builds a Connection. Call Run to start the dial/auth/relay loop.
func New(cfg Config, logger *slog.Logger) *Connection {
	c := &Connection{cfg: cfg, logger: logger.With("component", "connection")}
	c.state.Store(int32(Disconnected))
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	c.logger.Debug("connection state transition", "state", s.String())

	if c.cfg.Metrics == nil {
		return
	}
	for _, candidate := range []State{Disconnected, Dialing, Authenticating, Connected, Closing, Stopped} {
		v := 0.0
		if candidate == s {
			v = 1
		}
		c.cfg.Metrics.ConnectionState.WithLabelValues(candidate.String()).Set(v)
	}
}

// Run dials, authenticates, and relays envelopes between the peer and the
// supplied channels until ctx is cancelled or the control plane permanently
// rejects authentication. inbound carries peer→agent envelopes in wire
// arrival order; outbound carries agent→peer envelopes to transmit in
// submission order. Run returns nil on graceful shutdown (ctx cancelled) and
// a non-nil *agenterr.AuthFailed with Permanent set when the control plane
// has quarantined this device.
func (c *Connection) Run(ctx context.Context, inbound chan<- protocol.Envelope, outbound <-chan protocol.Envelope) error {
	for {
		if ctx.Err() != nil {
			c.setState(Stopped)
			return nil
		}

		err := c.runOnce(ctx, inbound, outbound)
		if ctx.Err() != nil {
			c.setState(Stopped)
			return nil
		}
		if err == nil {
			// runOnce only returns nil when ctx was cancelled mid-relay or
			// the outbound channel was closed; either way there is nothing
			// left to reconnect for.
			c.setState(Stopped)
			return nil
		}

		if authErr, ok := agenterr.As[*agenterr.AuthFailed](err); ok && authErr.Permanent {
			c.logger.Error("auth rejected permanently, quarantining", "reason", authErr.Reason)
			c.setState(Stopped)
			return err
		}

		n := c.failures.Load()
		delay := Backoff(int(n))
		c.failures.Add(1)

		c.logger.Warn("connection lost, reconnecting", "error", err.Error(), "backoff", delay.String())
		c.setState(Disconnected)

		select {
		case <-ctx.Done():
			c.setState(Stopped)
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs one dial → authenticate → relay cycle. It returns nil
// only when ctx was cancelled or the outbound channel was closed during the
// relay phase; otherwise it always returns a descriptive error so Run can
// classify it.
func (c *Connection) runOnce(ctx context.Context, inbound chan<- protocol.Envelope, outbound <-chan protocol.Envelope) error {
	c.setState(Dialing)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.authTimeout())
	conn, _, err := c.cfg.dialer().DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return &agenterr.TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	if err := c.authenticate(ctx, conn); err != nil {
		return err
	}

	if c.failures.Load() > 0 && c.cfg.Metrics != nil {
		c.cfg.Metrics.ReconnectsTotal.Inc()
	}
	c.setState(Connected)
	c.failures.Store(0)
	c.logger.Info("authenticated with control plane")

	return c.relay(ctx, conn, inbound, outbound)
}

// authenticate runs the AUTH → AUTH_OK/AUTH_FAIL handshake over conn, traced
// as a single span so the control plane's auth latency and rejection rate
// are visible alongside the rest of the agent's OTLP export.
func (c *Connection) authenticate(ctx context.Context, conn *websocket.Conn) error {
	_, span := tracing.Tracer().Start(ctx, "connection.authenticate",
		trace.WithAttributes(attribute.String("device_id", c.cfg.DeviceID)))
	defer span.End()

	c.setState(Authenticating)

	authEnv, err := protocol.New(protocol.TypeAuth, protocol.AuthPayload{
		DeviceID:        c.cfg.DeviceID,
		APIKey:          c.cfg.APIKey,
		FirmwareVersion: c.cfg.FirmwareVersion,
		AgentVersion:    c.cfg.AgentVersion,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("connection: build AUTH envelope: %w", err)
	}
	if err := writeEnvelope(conn, authEnv); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &agenterr.TransportError{Op: "write AUTH", Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.authTimeout())); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &agenterr.TransportError{Op: "set auth deadline", Err: err}
	}
	reply, err := readEnvelope(conn)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &agenterr.TransportError{Op: "auth handshake", Err: err}
	}

	switch reply.Type {
	case protocol.TypeAuthOK:
		// fall through.
	case protocol.TypeAuthFail:
		var fail protocol.AuthFailPayload
		_ = reply.Decode(&fail)
		span.SetAttributes(attribute.Bool("auth.permanent_failure", fail.Permanent))
		span.SetStatus(codes.Error, fail.Reason)
		return &agenterr.AuthFailed{Reason: fail.Reason, Permanent: fail.Permanent}
	default:
		err := &agenterr.ProtocolError{Detail: fmt.Sprintf("expected AUTH_OK or AUTH_FAIL, got %s", reply.Type)}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &agenterr.TransportError{Op: "clear auth deadline", Err: err}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// relay pumps envelopes in both directions until the context is cancelled,
// a transport error occurs, or the keepalive check finds the link dead.
func (c *Connection) relay(ctx context.Context, conn *websocket.Conn, inbound chan<- protocol.Envelope, outbound <-chan protocol.Envelope) error {
	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	readErrCh := make(chan error, 1)
	go func() {
		for {
			env, err := readEnvelope(conn)
			if err != nil {
				readErrCh <- err
				return
			}
			lastSeen.Store(time.Now().UnixNano())
			select {
			case inbound <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(keepaliveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(Closing)
			deadline := time.Now().Add(closeWriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return nil

		case err := <-readErrCh:
			c.setState(Closing)
			return &agenterr.TransportError{Op: "read", Err: err}

		case env, ok := <-outbound:
			if !ok {
				c.setState(Closing)
				return nil
			}
			if err := writeEnvelope(conn, env); err != nil {
				c.setState(Closing)
				return &agenterr.TransportError{Op: "write", Err: err}
			}

		case <-ticker.C:
			seen := time.Unix(0, lastSeen.Load())
			if since := time.Since(seen); since > c.cfg.pingTimeout() {
				c.setState(Closing)
				return &agenterr.TransportError{Op: "keepalive", Err: fmt.Errorf("no frame in %s", since.Round(time.Second))}
			}
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env protocol.Envelope) error {
	return conn.WriteJSON(env)
}

func readEnvelope(conn *websocket.Conn) (protocol.Envelope, error) {
	var env protocol.Envelope
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, &agenterr.ProtocolError{Detail: err.Error()}
	}
	return env, nil
}

// Backoff returns the reconnect delay for the n-th consecutive failure
// (0-indexed) since the connection was last Connected: min(cap, base*2^n)
// scaled by a uniform jitter factor in [0.5, 1.5).
func Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	scaled := float64(backoffBase) * math.Pow(2, float64(n))
	if scaled > float64(backoffCap) {
		scaled = float64(backoffCap)
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(scaled * jitter)
}
