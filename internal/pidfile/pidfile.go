// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package pidfile acquires and releases the agent's daemon PID file,
// guaranteeing at most one daemonized instance runs against a given state
// directory at a time.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// File represents an acquired, locked PID file. Release unlocks and removes
// it.
type File struct {
	f *os.File
}

// Acquire opens (creating if necessary) the PID file at path and takes an
// exclusive, non-blocking advisory lock on it, then writes the current
// process id. If another process already holds the lock, Acquire returns an
// error without blocking — the caller's daemon start must fail immediately
// (spec: failure to acquire the PID file terminates the process with exit
// code 1) rather than wait on a stale instance.
func Acquire(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file %q: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("pid file %q is locked by another instance: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to truncate pid file %q: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to write pid file %q: %w", path, err)
	}

	return &File{f: f}, nil
}

// Release unlocks and removes the PID file. Call it once, on shutdown.
func (p *File) Release() error {
	path := p.f.Name()
	if err := syscall.Flock(int(p.f.Fd()), syscall.LOCK_UN); err != nil {
		p.f.Close() //nolint:errcheck
		return fmt.Errorf("failed to unlock pid file: %w", err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("failed to close pid file: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}
