// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package execpipe implements the command execution pipeline: basename
// resolution, mode-gated allowlists, timeout and output-truncation
// enforcement around os/exec.
package execpipe

import "github.com/ngfw-io/router-agent/internal/config"

// diagnosticSet holds read-only utilities permitted once the effective mode
// is at least shadow.
var diagnosticSet = map[string]struct{}{
	"ping":      {},
	"traceroute": {},
	"ip":        {},
	"ifconfig":  {},
	"nslookup":  {},
	"dig":       {},
	"netstat":   {},
	"ss":        {},
	"uptime":    {},
	"cat":       {},
}

// mutatingSet holds the diagnostic set plus subsystem-altering utilities,
// permitted only once the effective mode is takeover.
var mutatingSet = unionWithExtra(diagnosticSet, []string{
	"iptables",
	"ip6tables",
	"nft",
	"wpa_cli",
	"hostapd_cli",
	"ifup",
	"ifdown",
	"systemctl",
	"dhclient",
})

func unionWithExtra(base map[string]struct{}, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for k := range base {
		out[k] = struct{}{}
	}
	for _, k := range extra {
		out[k] = struct{}{}
	}
	return out
}

// allowlistFor returns the allowlist that applies for the given effective
// mode: empty in observe, the diagnostic set in shadow, the mutating set
// (which is a superset of diagnostic) in takeover. It is recomputed on
// every call from these static tables rather than cached, since the sets
// are small fixed maps already O(1) to consult.
func allowlistFor(m config.Mode) map[string]struct{} {
	switch m {
	case config.ModeShadow:
		return diagnosticSet
	case config.ModeTakeover:
		return mutatingSet
	case config.ModeObserve:
		fallthrough
	default:
		return map[string]struct{}{}
	}
}

// Allowed reports whether basename name may run under effective mode m.
func Allowed(name string, m config.Mode) bool {
	_, ok := allowlistFor(m)[name]
	return ok
}
