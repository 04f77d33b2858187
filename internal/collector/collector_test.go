// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package collector_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngfw-io/router-agent/internal/adapter"
	"github.com/ngfw-io/router-agent/internal/collector"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/connection"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/ngfw-io/router-agent/internal/rollback"
)

type fakeLink struct {
	state connection.State
}

func (f fakeLink) State() connection.State { return f.state }

func newCollector(t *testing.T, link fakeLink, outbound chan<- protocol.Envelope) *collector.Collector {
	t.Helper()
	dir := t.TempDir()

	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(adapter.NewFileAdapter(config.SectionFirewall, dir)))

	store := rollback.New(dir)
	logger := slog.New(slog.DiscardHandler)

	c, err := collector.New(logger, registry, store, nil, link, outbound, time.Second)
	require.NoError(t, err)
	return c
}

func TestCollector_StartStop(t *testing.T) {
	t.Parallel()
	outbound := make(chan protocol.Envelope, 8)
	c := newCollector(t, fakeLink{state: connection.Connected}, outbound)

	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
}

func TestCollector_DisconnectedStillStartsCleanly(t *testing.T) {
	t.Parallel()
	outbound := make(chan protocol.Envelope, 8)
	c := newCollector(t, fakeLink{state: connection.Disconnected}, outbound)

	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Stop()) }()

	// No tick has had time to run yet; nothing should be queued.
	select {
	case env := <-outbound:
		t.Fatalf("unexpected envelope before first scheduled tick: %+v", env)
	default:
	}
}

func TestCollector_EmitsMetricsWhenConnected(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(adapter.NewFileAdapter(config.SectionFirewall, dir)))

	store := rollback.New(dir)
	outbound := make(chan protocol.Envelope, 8)

	c, err := collector.New(slog.New(slog.DiscardHandler), registry, store, nil, fakeLink{state: connection.Connected}, outbound, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer func() { require.NoError(t, c.Stop()) }()

	select {
	case env := <-outbound:
		assert.Equal(t, protocol.TypeMetrics, env.Type)
		var payload protocol.MetricsPayload
		require.NoError(t, env.Decode(&payload))
		assert.Contains(t, payload.Sections, config.SectionFirewall)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for METRICS envelope")
	}
}

func TestCollector_IntegrityCheckAcceptsFreshSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(adapter.NewFileAdapter(config.SectionFirewall, dir)))

	store := rollback.New(dir)
	require.NoError(t, store.Snapshot(context.Background(), string(config.SectionFirewall), 1, []byte(`{}`)))

	broken := store.CheckIntegrity()
	assert.Empty(t, broken, "freshly written snapshot should be readable")
}
