// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

package rollback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/ulikunitz/xz"
)

// Store persists one snapshot per section under dir/<section>.bin, guarded
// by a per-section lock rather than one global lock so concurrent sections
// never contend with each other.
type Store struct {
	dir   string
	locks *xsync.Map[string, *sectionLock]
}

type sectionLock struct {
	ch chan struct{} // 1-buffered; acts as a mutex without blocking xsync's map internals
}

func newSectionLock() *sectionLock {
	l := &sectionLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l *sectionLock) Lock()   { <-l.ch }
func (l *sectionLock) Unlock() { l.ch <- struct{}{} }

// New constructs a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, locks: xsync.NewMap[string, *sectionLock]()}
}

func (s *Store) lockFor(section string) *sectionLock {
	l, _ := s.locks.LoadOrStore(section, newSectionLock())
	return l
}

func (s *Store) path(section string) string {
	return filepath.Join(s.dir, section+".bin")
}

// Snapshot writes the pre-apply snapshot for a section, replacing any
// snapshot already on disk for that section. Exactly one snapshot is kept
// per section at a time.
func (s *Store) Snapshot(_ context.Context, section string, previousVersion int64, cfg []byte) error {
	lock := s.lockFor(section)
	lock.Lock()
	defer lock.Unlock()

	rec := Record{Section: section, PreviousVersion: previousVersion, Config: cfg, Timestamp: time.Now()}
	compressed, err := compress(rec.encode())
	if err != nil {
		return fmt.Errorf("failed to compress snapshot for %s: %w", section, err)
	}
	return atomicWrite(s.dir, s.path(section), compressed)
}

// Restore reads the snapshot for section, returning os.ErrNotExist (wrapped)
// if none has been taken.
func (s *Store) Restore(_ context.Context, section string) (Record, error) {
	lock := s.lockFor(section)
	lock.Lock()
	defer lock.Unlock()

	return s.load(section)
}

func (s *Store) load(section string) (Record, error) {
	data, err := os.ReadFile(s.path(section))
	if err != nil {
		return Record{}, fmt.Errorf("failed to read snapshot for %s: %w", section, err)
	}
	raw, err := decompress(data)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decompress snapshot for %s: %w", section, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Record{}, fmt.Errorf("failed to decode snapshot for %s: %w", section, err)
	}
	return rec, nil
}

// Forget removes any retained snapshot for section, called after a
// successful rollback has consumed it.
func (s *Store) Forget(_ context.Context, section string) error {
	lock := s.lockFor(section)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(section)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot for %s: %w", section, err)
	}
	return nil
}

// CheckIntegrity attempts to read and decode every snapshot file under the
// store's directory, returning the section names whose snapshot failed to
// parse. Used by the Collector's daily integrity sweep.
func (s *Store) CheckIntegrity() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var broken []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".bin" {
			continue
		}
		section := entry.Name()[:len(entry.Name())-len(".bin")]
		if _, err := s.load(section); err != nil {
			broken = append(broken, section)
		}
	}
	return broken
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to xz-compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize xz stream: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to xz-decompress snapshot: %w", err)
	}
	return out, nil
}

// atomicWrite writes data to path via a temp file in dir followed by a
// rename, so a crash mid-write never leaves a torn snapshot in place.
func atomicWrite(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rollback dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("failed to sync temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp snapshot file into place: %w", err)
	}
	return nil
}
