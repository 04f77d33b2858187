// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package connection_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngfw-io/router-agent/internal/connection"
	"github.com/ngfw-io/router-agent/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// peerServer is a minimal control-plane stand-in: it upgrades one connection
// at a time and lets the test script drive AUTH responses and subsequent
// frames by hand.
type peerServer struct {
	upgrader websocket.Upgrader
	accept   chan *websocket.Conn
}

func newPeerServer() (*peerServer, *httptest.Server) {
	p := &peerServer{accept: make(chan *websocket.Conn, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := p.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.accept <- c
	}))
	return p, srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestRun_AuthOKThenPingPong(t *testing.T) {
	peer, srv := newPeerServer()
	defer srv.Close()

	cfg := connection.Config{
		URL:             wsURL(srv.URL),
		DeviceID:        "router-1",
		APIKey:          "key",
		FirmwareVersion: "1.0",
		AgentVersion:    "1.0",
		AuthTimeout:     2 * time.Second,
		PingTimeout:     2 * time.Second,
	}
	conn := connection.New(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan protocol.Envelope, 8)
	outbound := make(chan protocol.Envelope, 8)

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, inbound, outbound) }()

	var peerConn *websocket.Conn
	select {
	case peerConn = <-peer.accept:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a connection")
	}

	var authEnv protocol.Envelope
	require.NoError(t, peerConn.ReadJSON(&authEnv))
	assert.Equal(t, protocol.TypeAuth, authEnv.Type)

	okEnv, err := protocol.New(protocol.TypeAuthOK, struct{}{})
	require.NoError(t, err)
	require.NoError(t, peerConn.WriteJSON(okEnv))

	require.Eventually(t, func() bool {
		return conn.State() == connection.Connected
	}, 2*time.Second, 10*time.Millisecond)

	pingEnv, err := protocol.New(protocol.TypePing, struct{}{})
	require.NoError(t, err)
	require.NoError(t, peerConn.WriteJSON(pingEnv))

	select {
	case env := <-inbound:
		assert.Equal(t, protocol.TypePing, env.Type)
		assert.Equal(t, pingEnv.ID, env.ID)
	case <-time.After(time.Second):
		t.Fatal("ping envelope never reached inbound channel")
	}

	pongEnv, err := protocol.Reply(pingEnv, protocol.TypePong, struct{}{})
	require.NoError(t, err)
	outbound <- pongEnv

	require.NoError(t, peerConn.SetReadDeadline(time.Now().Add(time.Second)))
	var received protocol.Envelope
	require.NoError(t, peerConn.ReadJSON(&received))
	assert.Equal(t, protocol.TypePong, received.Type)
	assert.Equal(t, pingEnv.ID, received.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRun_AuthFailPermanentStopsReconnecting(t *testing.T) {
	peer, srv := newPeerServer()
	defer srv.Close()

	cfg := connection.Config{
		URL:         wsURL(srv.URL),
		DeviceID:    "router-1",
		APIKey:      "bad-key",
		AuthTimeout: time.Second,
		PingTimeout: time.Second,
	}
	conn := connection.New(cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	inbound := make(chan protocol.Envelope, 4)
	outbound := make(chan protocol.Envelope, 4)

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, inbound, outbound) }()

	peerConn := <-peer.accept
	var authEnv protocol.Envelope
	require.NoError(t, peerConn.ReadJSON(&authEnv))

	failEnv, err := protocol.New(protocol.TypeAuthFail, protocol.AuthFailPayload{
		Reason:    "bad credentials",
		Permanent: true,
	})
	require.NoError(t, err)
	require.NoError(t, peerConn.WriteJSON(failEnv))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permanently")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate on permanent auth failure")
	}
	assert.Equal(t, connection.Stopped, conn.State())
}

func TestBackoff_MonotonicUntilCap(t *testing.T) {
	prevMax := time.Duration(0)
	for n := 0; n < 8; n++ {
		// Sample the jitter envelope rather than one draw: the maximum over
		// many draws should approach base*2^n (or the cap), never exceed it.
		var max time.Duration
		for i := 0; i < 50; i++ {
			d := connection.Backoff(n)
			if d > max {
				max = d
			}
			assert.LessOrEqual(t, d, 90*time.Second) // cap(60s) * 1.5
		}
		// From n=6 on base*2^n (64s) exceeds the cap, so every later n draws
		// from the same range and the sampled maxima are no longer ordered.
		if n <= 6 {
			assert.GreaterOrEqual(t, max, prevMax)
		}
		prevMax = max
	}
}
