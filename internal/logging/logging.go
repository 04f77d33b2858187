// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/ngfw-io/router-agent/internal/config"
)

func levelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	case config.LogLevelInfo:
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Setup installs the process-wide slog default logger. In console mode
// (daemon == false) it uses a tint handler for colorized single-line output
// suited to an operator's terminal. In daemon mode it writes structured JSON
// lines to w, suited to a log shipper reading the router's log file.
func Setup(level config.LogLevel, daemon bool, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}

	var logger *slog.Logger
	if daemon {
		logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelFor(level)}))
	} else {
		logger = slog.New(tint.NewHandler(w, &tint.Options{Level: levelFor(level)}))
	}
	slog.SetDefault(logger)
}
