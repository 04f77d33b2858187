// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package adapter defines the uniform contract every managed configuration
// subsystem implements, and a registry components look the adapter for a
// section up in.
package adapter

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/ngfw-io/router-agent/internal/config"
	"github.com/puzpuzpuz/xsync/v4"
)

// Adapter is the contract every managed subsystem (firewall, DNS, wifi, ...)
// implements. Exactly one adapter is registered per section. The dispatcher
// is the only caller of its read/validate/diff/apply/rollback methods; the
// Collector calls CollectMetrics on the same adapters from its own jobs.
type Adapter interface {
	// Section identifies which configuration section this adapter manages.
	Section() config.Section

	// Read returns the live, on-device configuration for this section as an
	// opaque value comparable by Diff.
	Read(ctx context.Context) (any, error)

	// Validate checks that raw decodes into a well-formed configuration for
	// this section, returning the decoded value or a validation issue.
	Validate(raw []byte) (any, error)

	// Diff computes a human-readable change-set between the live
	// configuration and a candidate.
	Diff(live, candidate any) string

	// Apply makes candidate the live configuration for this section.
	Apply(ctx context.Context, candidate any) error

	// Rollback restores a previously-read snapshot as the live
	// configuration, used when Apply fails and the section must be returned
	// to its pre-apply state.
	Rollback(ctx context.Context, snapshot any) error

	// CollectMetrics gathers a small telemetry sample for this section.
	CollectMetrics(ctx context.Context) (any, error)
}

// Registry maps sections to their registered Adapter, read far more often
// than written: adapters are registered once at startup.
type Registry struct {
	byName *xsync.Map[config.Section, Adapter]
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: xsync.NewMap[config.Section, Adapter]()}
}

// Register adds a, keyed by its own Section(). It is an error to register
// two adapters for the same section.
func (r *Registry) Register(a Adapter) error {
	_, loaded := r.byName.LoadOrStore(a.Section(), a)
	if loaded {
		return fmt.Errorf("adapter for section %q already registered", a.Section())
	}
	return nil
}

// Get returns the adapter registered for section, if any.
func (r *Registry) Get(section config.Section) (Adapter, bool) {
	return r.byName.Load(section)
}

// Sections returns every section with a registered adapter.
func (r *Registry) Sections() []config.Section {
	sections := make([]config.Section, 0, r.byName.Size())
	r.byName.Range(func(section config.Section, _ Adapter) bool {
		sections = append(sections, section)
		return true
	})
	return sections
}

// Hash returns a stable hash of a decoded configuration payload, used in
// takeover mode to skip the snapshot and Apply for a validated CONFIG_PUSH
// structurally identical to the last one applied to that section.
func Hash(v any) (uint64, error) {
	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to hash config payload: %w", err)
	}
	return h, nil
}

// Diff is a generic Adapter.Diff implementation backed by cmp.Diff, suitable
// for adapters whose configuration type has no adapter-specific diff logic.
func Diff(live, candidate any) string {
	return cmp.Diff(live, candidate)
}
