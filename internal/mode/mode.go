// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package mode implements the agent's mode engine: a default mode plus
// per-section overrides, held behind an atomic pointer so every goroutine
// reads a consistent snapshot without a lock, and persisted to mode.json on
// every change.
package mode

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ngfw-io/router-agent/internal/agenterr"
	"github.com/ngfw-io/router-agent/internal/config"
)

// state is the immutable snapshot swapped atomically on every change.
type state struct {
	Default   config.Mode                    `json:"default"`
	Overrides map[config.Section]config.Mode `json:"overrides"`
}

// Engine holds the current mode state and persists changes to disk.
type Engine struct {
	current  atomic.Pointer[state]
	statePath string
}

// New constructs an Engine seeded with the given default mode and overrides,
// persisting to mode.json under stateDir.
func New(stateDir string, def config.Mode, overrides map[config.Section]config.Mode) *Engine {
	e := &Engine{statePath: filepath.Join(stateDir, "mode.json")}
	if overrides == nil {
		overrides = map[config.Section]config.Mode{}
	}
	e.current.Store(&state{Default: def, Overrides: overrides})
	return e
}

// Load restores persisted mode state from mode.json under stateDir if it
// exists and parses cleanly, falling back to the given defaults otherwise.
// A corrupt file is preserved (renamed aside with a timestamp suffix) rather
// than overwritten, so an operator can inspect what went wrong.
func Load(stateDir string, def config.Mode, overrides map[config.Section]config.Mode) (*Engine, error) {
	e := New(stateDir, def, overrides)

	data, err := os.ReadFile(e.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return e, nil
		}
		return nil, fmt.Errorf("failed to read mode state: %w", err)
	}

	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		if preserveErr := e.preserveCorrupt("failed to parse mode state, falling back to defaults", err); preserveErr != nil {
			return nil, preserveErr
		}
		return e, nil
	}
	if !s.Default.Valid() {
		if preserveErr := e.preserveCorrupt("mode state has invalid default mode, falling back to defaults",
			fmt.Errorf("default %q is not observe/shadow/takeover", s.Default)); preserveErr != nil {
			return nil, preserveErr
		}
		return e, nil
	}
	if s.Overrides == nil {
		s.Overrides = map[config.Section]config.Mode{}
	}
	e.current.Store(&s)
	return e, nil
}

// preserveCorrupt renames a malformed mode.json aside with a timestamp
// suffix rather than overwriting it, per spec §4.3, so an operator can
// investigate what the agent saw; a JSON syntax error and a parseable but
// semantically invalid document (e.g. an out-of-range default mode) are
// both "corrupt" from the engine's perspective and handled identically.
func (e *Engine) preserveCorrupt(reason string, cause error) error {
	corrupt := e.statePath + ".corrupt." + fmt.Sprintf("%d", time.Now().UnixNano())
	if err := os.Rename(e.statePath, corrupt); err != nil {
		return fmt.Errorf("%s (%w) and failed to preserve corrupt file: %w", reason, cause, err)
	}
	slog.Warn(reason, "error", cause, "preserved_as", corrupt)
	return nil
}

// Current returns the current default mode and a copy of the override map.
func (e *Engine) Current() (config.Mode, map[config.Section]config.Mode) {
	s := e.current.Load()
	overrides := make(map[config.Section]config.Mode, len(s.Overrides))
	for k, v := range s.Overrides {
		overrides[k] = v
	}
	return s.Default, overrides
}

// Effective returns the mode that applies to a given section: its override
// if one is set, otherwise the default mode.
func (e *Engine) Effective(section config.Section) config.Mode {
	s := e.current.Load()
	if m, ok := s.Overrides[section]; ok {
		return m
	}
	return s.Default
}

// Allows reports whether the effective mode for section is at least as
// permissive as required, returning a ModeDenied error describing the gap
// when it is not.
func (e *Engine) Allows(section config.Section, op string, required config.Mode) error {
	eff := e.Effective(section)
	if eff.AtLeast(required) {
		return nil
	}
	return &agenterr.ModeDenied{Section: section, Op: op, Mode: eff}
}

// Apply installs a new default mode and/or override set and persists it.
// An empty newDefault keeps the current default. With replaceOverrides
// false, newOverrides is merged into the existing overrides (nil leaves them
// unchanged); with replaceOverrides true, newOverrides replaces them
// wholesale (nil clears them).
func (e *Engine) Apply(newDefault config.Mode, newOverrides map[config.Section]config.Mode, replaceOverrides bool) error {
	s := e.current.Load()
	next := state{Default: s.Default, Overrides: make(map[config.Section]config.Mode, len(s.Overrides))}
	for k, v := range s.Overrides {
		next.Overrides[k] = v
	}

	if newDefault != "" {
		if !newDefault.Valid() {
			return fmt.Errorf("invalid default mode %q", newDefault)
		}
		next.Default = newDefault
	}

	if replaceOverrides {
		next.Overrides = make(map[config.Section]config.Mode, len(newOverrides))
	}
	for section, m := range newOverrides {
		if !section.Valid() {
			return fmt.Errorf("invalid section %q in override", section)
		}
		if !m.Valid() {
			return fmt.Errorf("invalid mode %q in override", m)
		}
		next.Overrides[section] = m
	}

	if err := e.persist(&next); err != nil {
		return err
	}
	e.current.Store(&next)
	return nil
}

// persist writes s to mode.json via a temp-file-then-rename, so a crash
// mid-write never leaves a half-written file in place.
func (e *Engine) persist(s *state) error {
	if e.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mode state: %w", err)
	}

	dir := filepath.Dir(e.statePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mode-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp mode file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write temp mode file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to sync temp mode file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp mode file: %w", err)
	}
	if err := os.Rename(tmpPath, e.statePath); err != nil {
		return fmt.Errorf("failed to rename temp mode file into place: %w", err)
	}
	return nil
}
