// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package mode_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ngfw-io/router-agent/internal/agenterr"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/ngfw-io/router-agent/internal/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllows(t *testing.T) {
	tests := []struct {
		name      string
		def       config.Mode
		overrides map[config.Section]config.Mode
		section   config.Section
		required  config.Mode
		wantErr   bool
	}{
		{"observe denies shadow op", config.ModeObserve, nil, config.SectionFirewall, config.ModeShadow, true},
		{"shadow allows observe op", config.ModeShadow, nil, config.SectionFirewall, config.ModeObserve, false},
		{"takeover allows everything", config.ModeTakeover, nil, config.SectionFirewall, config.ModeTakeover, false},
		{"override takes precedence over default", config.ModeObserve, map[config.Section]config.Mode{config.SectionFirewall: config.ModeTakeover}, config.SectionFirewall, config.ModeTakeover, false},
		{"override only applies to its section", config.ModeTakeover, map[config.Section]config.Mode{config.SectionFirewall: config.ModeObserve}, config.SectionDNS, config.ModeTakeover, false},
		{"override restricts below default", config.ModeTakeover, map[config.Section]config.Mode{config.SectionFirewall: config.ModeObserve}, config.SectionFirewall, config.ModeShadow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mode.New(t.TempDir(), tt.def, tt.overrides)
			err := e.Allows(tt.section, "apply", tt.required)
			if tt.wantErr {
				require.Error(t, err)
				denied, ok := agenterr.As[*agenterr.ModeDenied](err)
				require.True(t, ok)
				assert.Equal(t, tt.section, denied.Section)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	e := mode.New(dir, config.ModeObserve, nil)

	require.NoError(t, e.Apply(config.ModeShadow, map[config.Section]config.Mode{config.SectionWifi: config.ModeTakeover}, false))

	def, overrides := e.Current()
	assert.Equal(t, config.ModeShadow, def)
	assert.Equal(t, config.ModeTakeover, overrides[config.SectionWifi])

	reloaded, err := mode.Load(dir, config.ModeObserve, nil)
	require.NoError(t, err)
	def2, overrides2 := reloaded.Current()
	assert.Equal(t, config.ModeShadow, def2)
	assert.Equal(t, config.ModeTakeover, overrides2[config.SectionWifi])
}

func TestLoad_CorruptFilePreserved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mode.json"), []byte("{not json"), 0o644))

	e, err := mode.Load(dir, config.ModeObserve, nil)
	require.NoError(t, err)
	def, _ := e.Current()
	assert.Equal(t, config.ModeObserve, def)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var foundCorrupt bool
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" && entry.Name() != "mode.json" {
			foundCorrupt = true
		}
	}
	assert.True(t, foundCorrupt, "expected corrupt mode.json to be preserved under a new name")
}

func TestLoad_InvalidDefaultModePreserved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mode.json"), []byte(`{"default":"bogus","overrides":{}}`), 0o644))

	e, err := mode.Load(dir, config.ModeObserve, nil)
	require.NoError(t, err)
	def, _ := e.Current()
	assert.Equal(t, config.ModeObserve, def, "should fall back to the given default rather than keep the invalid one")

	_, statErr := os.Stat(filepath.Join(dir, "mode.json"))
	assert.True(t, os.IsNotExist(statErr), "expected the invalid mode.json to be renamed aside, not left in place")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var foundCorrupt bool
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" && entry.Name() != "mode.json" {
			foundCorrupt = true
		}
	}
	assert.True(t, foundCorrupt, "expected invalid mode.json to be preserved under a new name")
}
