// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package cmd implements the agent's command-line entry point: a single
// command with no subcommands, following the --check/--daemon/--config
// surface documented for operators.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngfw-io/router-agent/internal/adapter"
	"github.com/ngfw-io/router-agent/internal/agenterr"
	"github.com/ngfw-io/router-agent/internal/collector"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/connection"
	"github.com/ngfw-io/router-agent/internal/daemonize"
	"github.com/ngfw-io/router-agent/internal/dispatcher"
	"github.com/ngfw-io/router-agent/internal/logging"
	"github.com/ngfw-io/router-agent/internal/metrics"
	"github.com/ngfw-io/router-agent/internal/mode"
	"github.com/ngfw-io/router-agent/internal/pidfile"
	"github.com/ngfw-io/router-agent/internal/protocol"
	"github.com/ngfw-io/router-agent/internal/rollback"
	"github.com/ngfw-io/router-agent/internal/tracing"
)

// ExitConfigInvalid is returned (via os.Exit) by --check when the config
// file fails to parse or validate.
const ExitConfigInvalid = 2

// ExitAuthRejected is returned (via os.Exit) when the control plane
// permanently rejects the agent's API key.
const ExitAuthRejected = 3

// shutdownTimeout bounds how long graceful shutdown waits for every
// component to stop before forcing an exit.
const shutdownTimeout = 10 * time.Second

// envelopeBuffer sizes the inbound/outbound channels connecting Connection,
// Dispatcher, and Collector.
const envelopeBuffer = 256

func NewCommand(version, commit string) *cobra.Command {
	var (
		configPath string
		check      bool
		daemon     bool
	)

	cmd := &cobra.Command{
		Use:     "router-agent",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, configPath, check, daemon)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the agent's TOML config file")
	cmd.Flags().BoolVar(&check, "check", false, "parse and validate the config file, then exit")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "detach from the controlling terminal and run in the background")

	return cmd
}

func runRoot(cmd *cobra.Command, configFlag string, check, daemon bool) error {
	path := config.ResolvePath(configFlag)

	if check {
		_, err := config.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err) //nolint:errcheck
			os.Exit(ExitConfigInvalid)
		}
		fmt.Println("configuration is valid")
		return nil
	}

	if daemon && !daemonize.IsChild() {
		logPath := filepath.Join(config.DefaultStateDir, "agent.log")
		if err := daemonize.Detach(logPath); err != nil {
			return fmt.Errorf("failed to daemonize: %w", err)
		}
		return nil // unreachable: Detach exits the parent
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.Store(cfg)

	if daemon {
		pidPath := filepath.Join(cfg.Agent.StateDir, "agent.pid")
		pf, err := pidfile.Acquire(pidPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err) //nolint:errcheck
			os.Exit(1)
		}
		defer pf.Release() //nolint:errcheck
	}

	logging.Setup(cfg.Agent.LogLevel, daemon, nil)
	slog.Info("router-agent starting", "version", cmd.Annotations["version"], "commit", cmd.Annotations["commit"])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	cleanup, err := tracing.Setup(ctx, cfg.Agent.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}

	m := metrics.NewMetrics()
	go func() {
		if err := metrics.CreateMetricsServer(cfg, m); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	registry := adapter.NewRegistry()
	for _, section := range cfg.Adapters.Enabled() {
		dataDir := filepath.Join(cfg.Agent.StateDir, "adapters", string(section))
		if err := registry.Register(adapter.NewFileAdapter(section, dataDir)); err != nil {
			return fmt.Errorf("failed to register adapter for section %q: %w", section, err)
		}
	}

	modeEngine, err := mode.Load(cfg.Agent.StateDir, cfg.Mode.Default, cfg.Mode.Overrides)
	if err != nil {
		return fmt.Errorf("failed to load mode state: %w", err)
	}

	store := rollback.New(cfg.Agent.StateDir)

	inbound := make(chan protocol.Envelope, envelopeBuffer)
	outbound := make(chan protocol.Envelope, envelopeBuffer)

	slog.SetDefault(slog.New(logging.NewForwardingHandler(slog.Default().Handler(), outbound)))

	conn := connection.New(connection.Config{
		URL:             cfg.Agent.WebSocketURL,
		DeviceID:        cfg.Agent.DeviceID,
		APIKey:          cfg.Agent.APIKey,
		FirmwareVersion: cmd.Annotations["commit"],
		AgentVersion:    cmd.Annotations["version"],
		Metrics:         m,
	}, slog.Default())

	disp := dispatcher.New(slog.Default(), registry, modeEngine, store, m)

	coll, err := collector.New(slog.Default(), registry, store, m, conn, outbound, cfg.Agent.MetricsInterval())
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}
	if err := coll.Start(); err != nil {
		return fmt.Errorf("failed to start collector: %w", err)
	}

	var connErr error
	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		connErr = conn.Run(ctx, inbound, outbound)
	}()

	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(ctx, inbound, outbound)
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping agent")

	shutdown(connDone, dispDone, coll, cleanup)

	return translateConnErr(connErr)
}

// shutdown waits for the connection and dispatcher goroutines to unwind
// after ctx cancellation, stops the collector, and flushes tracing, all in
// parallel bounded by shutdownTimeout.
func shutdown(connDone, dispDone <-chan struct{}, coll *collector.Collector, cleanup func(context.Context) error) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coll.Stop(); err != nil {
			slog.Error("failed to stop collector", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connDone
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-dispDone
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		slog.Info("agent stopped gracefully")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit")
		os.Exit(1)
	}
}

// translateConnErr maps a permanent AuthFailed returned from the
// connection's run loop onto the agent's dedicated exit code, since that
// condition is unrecoverable and operator-actionable (a bad API key), unlike
// a transient transport error which is just reported as a normal failure.
func translateConnErr(err error) error {
	if err == nil {
		return nil
	}

	if authErr, ok := agenterr.As[*agenterr.AuthFailed](err); ok && authErr.Permanent {
		slog.Error("control plane rejected credentials permanently", "reason", authErr.Reason)
		os.Exit(ExitAuthRejected)
	}

	var transportErr *agenterr.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("connection stopped: %w", err)
	}

	return err
}
