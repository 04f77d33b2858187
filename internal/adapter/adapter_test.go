// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package adapter_test

import (
	"context"
	"testing"

	"github.com/ngfw-io/router-agent/internal/adapter"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := adapter.NewRegistry()
	a1 := adapter.NewFileAdapter(config.SectionFirewall, t.TempDir())
	a2 := adapter.NewFileAdapter(config.SectionFirewall, t.TempDir())

	require.NoError(t, reg.Register(a1))
	assert.Error(t, reg.Register(a2))
}

func TestFileAdapter_ApplyReadRollback(t *testing.T) {
	ctx := context.Background()
	a := adapter.NewFileAdapter(config.SectionDNS, t.TempDir())

	live, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, live)

	candidate, err := a.Validate([]byte(`{"upstream": "1.1.1.1"}`))
	require.NoError(t, err)

	require.NoError(t, a.Apply(ctx, candidate))

	applied, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", applied.(map[string]any)["upstream"])

	require.NoError(t, a.Rollback(ctx, live))

	rolledBack, err := a.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, rolledBack)
}

func TestHash_IdenticalPayloadsMatch(t *testing.T) {
	a, err := adapter.Hash(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	b, err := adapter.Hash(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
