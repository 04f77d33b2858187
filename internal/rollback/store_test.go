// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package rollback_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ngfw-io/router-agent/internal/rollback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := rollback.New(t.TempDir())

	require.NoError(t, s.Snapshot(ctx, "firewall", 3, []byte(`{"rules":[]}`)))

	rec, err := s.Restore(ctx, "firewall")
	require.NoError(t, err)
	assert.Equal(t, "firewall", rec.Section)
	assert.Equal(t, int64(3), rec.PreviousVersion)
	assert.Equal(t, []byte(`{"rules":[]}`), rec.Config)
}

func TestSnapshotReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	s := rollback.New(t.TempDir())

	require.NoError(t, s.Snapshot(ctx, "dns", 1, []byte("one")))
	require.NoError(t, s.Snapshot(ctx, "dns", 2, []byte("two")))

	rec, err := s.Restore(ctx, "dns")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.PreviousVersion)
	assert.Equal(t, []byte("two"), rec.Config)
}

func TestForgetRemovesSnapshot(t *testing.T) {
	ctx := context.Background()
	s := rollback.New(t.TempDir())

	require.NoError(t, s.Snapshot(ctx, "wifi", 1, []byte("x")))
	require.NoError(t, s.Forget(ctx, "wifi"))

	_, err := s.Restore(ctx, "wifi")
	assert.Error(t, err)
}

func TestCheckIntegrity_DetectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := rollback.New(dir)

	require.NoError(t, s.Snapshot(ctx, "vpn", 1, []byte("ok")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wan.bin"), []byte("not xz data"), 0o644))

	broken := s.CheckIntegrity()
	assert.Contains(t, broken, "wan")
	assert.NotContains(t, broken, "vpn")
}
