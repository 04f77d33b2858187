// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ngfw-io/router-agent/internal/config"
)

// FileAdapter is a generic Adapter backed by a JSON document on disk, one
// file per section. It stands in for the real per-subsystem adapters (which
// this codebase does not implement — editing firewall tables, DHCP leases,
// Wi-Fi radios is specific to each platform) while still exercising the
// full read/validate/diff/apply/rollback/collect_metrics contract end to
// end against real files.
type FileAdapter struct {
	section config.Section
	path    string
}

// NewFileAdapter constructs a FileAdapter for section, storing its
// configuration document at <dataDir>/<section>.json.
func NewFileAdapter(section config.Section, dataDir string) *FileAdapter {
	return &FileAdapter{section: section, path: filepath.Join(dataDir, string(section)+".json")}
}

func (a *FileAdapter) Section() config.Section { return a.section }

func (a *FileAdapter) Read(_ context.Context) (any, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read %s config: %w", a.section, err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", a.section, err)
	}
	return v, nil
}

func (a *FileAdapter) Validate(raw []byte) (any, error) {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", a.section, err)
	}
	return v, nil
}

func (a *FileAdapter) Diff(live, candidate any) string {
	return Diff(live, candidate)
}

func (a *FileAdapter) Apply(_ context.Context, candidate any) error {
	return a.write(candidate)
}

func (a *FileAdapter) Rollback(_ context.Context, snapshot any) error {
	return a.write(snapshot)
}

func (a *FileAdapter) CollectMetrics(_ context.Context) (any, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"present": false}, nil
		}
		return nil, fmt.Errorf("failed to stat %s config: %w", a.section, err)
	}
	return map[string]any{
		"present":     true,
		"size_bytes":  info.Size(),
		"modified_at": info.ModTime().UTC().Format(time.RFC3339),
	}, nil
}

func (a *FileAdapter) write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s config: %w", a.section, err)
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s config dir: %w", a.section, err)
	}

	tmp, err := os.CreateTemp(dir, ".cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp %s config: %w", a.section, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write temp %s config: %w", a.section, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp %s config: %w", a.section, err)
	}
	if err := os.Rename(tmpPath, a.path); err != nil {
		return fmt.Errorf("failed to rename temp %s config into place: %w", a.section, err)
	}
	return nil
}
