// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 the router-agent authors.

// Package rollback implements the rollback store: one pre-apply snapshot
// retained per section, written atomically to a compressed msgpack file so
// a crash mid-apply never leaves a torn snapshot on disk.
package rollback

import (
	"fmt"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Record is the pre-apply snapshot of one section (at most one snapshot
// retained at a time). It is replaced when the next apply of that section
// writes its own snapshot, before that apply runs and whether or not it
// succeeds, and removed once a rollback has consumed it.
type Record struct {
	Section         string
	PreviousVersion int64
	Config          []byte
	Timestamp       time.Time
}

// encode serializes r as a msgpack array of its four fields, written with
// the same low-level msgp.Append* helpers a generated (*_gen.go) encoder
// would call into.
func (r Record) encode() []byte {
	b := make([]byte, 0, 64+len(r.Config))
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendString(b, r.Section)
	b = msgp.AppendInt64(b, r.PreviousVersion)
	b = msgp.AppendBytes(b, r.Config)
	b = msgp.AppendInt64(b, r.Timestamp.UnixNano())
	return b
}

// decodeRecord parses bytes written by encode.
func decodeRecord(b []byte) (Record, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record header: %w", err)
	}
	if n != 4 {
		return Record{}, fmt.Errorf("unexpected record field count %d", n)
	}

	var r Record
	r.Section, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read section: %w", err)
	}
	r.PreviousVersion, b, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read previous_version: %w", err)
	}
	r.Config, b, err = msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read config bytes: %w", err)
	}
	var nanos int64
	nanos, _, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read timestamp: %w", err)
	}
	r.Timestamp = time.Unix(0, nanos).UTC()

	return r, nil
}
