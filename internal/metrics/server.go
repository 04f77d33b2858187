// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package metrics

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readTimeout = 3 * time.Second

// CreateMetricsServer binds and serves the debug metrics endpoint when
// [agent].debug is set, blocking until the listener fails. It returns nil
// immediately when debug mode is off, and returns (rather than panics) when
// the configured bind address cannot be acquired, so callers can log and
// continue rather than crash the agent over a diagnostics port. Callers run
// it in its own goroutine.
func CreateMetricsServer(cfg *config.Config, m *Metrics) error {
	if !cfg.Agent.Debug {
		return nil
	}

	bind := cfg.Agent.DebugBind
	if bind == "" {
		bind = config.DefaultDebugBind
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener on %s: %w", bind, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
	}

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server stopped: %w", err)
	}
	return nil
}
