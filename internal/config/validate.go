// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package config

import "errors"

var (
	// ErrWebSocketURLRequired indicates no control plane URL was configured.
	ErrWebSocketURLRequired = errors.New("agent.websocket_url is required")
	// ErrAPIKeyRequired indicates no API key was configured, and none was
	// supplied via NGFW_API_KEY either.
	ErrAPIKeyRequired = errors.New("agent.api_key is required (set directly or via NGFW_API_KEY)")
	// ErrDeviceIDRequired indicates no device identifier was configured.
	ErrDeviceIDRequired = errors.New("agent.device_id is required")
	// ErrInvalidLogLevel indicates the provided log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid agent.log_level provided")
	// ErrInvalidDefaultMode indicates mode.default is not one of the three
	// recognized modes.
	ErrInvalidDefaultMode = errors.New("invalid mode.default provided")
	// ErrInvalidModeOverrideSection indicates a mode.overrides key names a
	// section that does not exist.
	ErrInvalidModeOverrideSection = errors.New("invalid section in mode.overrides")
	// ErrInvalidModeOverrideValue indicates a mode.overrides value is not one
	// of the three recognized modes.
	ErrInvalidModeOverrideValue = errors.New("invalid mode in mode.overrides")
	// ErrInvalidAdapterSection indicates an [adapters] key names a section
	// that does not exist.
	ErrInvalidAdapterSection = errors.New("invalid section name in [adapters]")
	// ErrInvalidMetricsInterval indicates agent.metrics_interval_secs is
	// negative.
	ErrInvalidMetricsInterval = errors.New("agent.metrics_interval_secs must not be negative")
)

// Validate checks that the configuration document describes a runnable
// agent: all required connection fields are present, the mode and section
// references are well-formed, and timing values are sane.
func (c Config) Validate() error {
	if c.Agent.WebSocketURL == "" {
		return ErrWebSocketURLRequired
	}
	if c.Agent.APIKey == "" {
		return ErrAPIKeyRequired
	}
	if c.Agent.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if c.Agent.LogLevel != LogLevelDebug &&
		c.Agent.LogLevel != LogLevelInfo &&
		c.Agent.LogLevel != LogLevelWarn &&
		c.Agent.LogLevel != LogLevelError {
		return ErrInvalidLogLevel
	}
	if c.Agent.MetricsIntervalSecs < 0 {
		return ErrInvalidMetricsInterval
	}

	if !c.Mode.Default.Valid() {
		return ErrInvalidDefaultMode
	}
	for section, mode := range c.Mode.Overrides {
		if !section.Valid() {
			return ErrInvalidModeOverrideSection
		}
		if !mode.Valid() {
			return ErrInvalidModeOverrideValue
		}
	}

	for section := range c.Adapters {
		if !section.Valid() {
			return ErrInvalidAdapterSection
		}
	}

	return nil
}
