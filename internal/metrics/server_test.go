// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package metrics_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMetricsServer_DisabledReturnsNil(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Agent: config.Agent{Debug: false}}
	err := metrics.CreateMetricsServer(cfg, metrics.NewMetrics())
	assert.NoError(t, err)
}

func TestCreateMetricsServer_PortInUseReturnsError(t *testing.T) {
	t.Parallel()

	// Occupy a port so the metrics server can't bind to it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close() //nolint:errcheck

	addr := "127.0.0.1:" + strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)

	cfg := &config.Config{Agent: config.Agent{Debug: true, DebugBind: addr}}

	err = metrics.CreateMetricsServer(cfg, metrics.NewMetrics())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
