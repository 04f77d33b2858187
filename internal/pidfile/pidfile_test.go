// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package pidfile_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ngfw-io/router-agent/internal/pidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_WritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	f, err := pidfile.Acquire(path)
	require.NoError(t, err)
	defer f.Release() //nolint:errcheck

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
}

func TestAcquire_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	f, err := pidfile.Acquire(path)
	require.NoError(t, err)
	defer f.Release() //nolint:errcheck

	_, err = pidfile.Acquire(path)
	assert.Error(t, err)
}

func TestRelease_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	f, err := pidfile.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, f.Release())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
