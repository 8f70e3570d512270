// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package dedup collapses records repeated across overlapping export
// snapshots.
package dedup

import (
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"

	"sentinel-scan/internal/observability"
	"sentinel-scan/internal/record"
)

// DuplicateConflictWarning reports two records sharing a key but
// differing in content. Kept is the record retained by the tie-break.
type DuplicateConflictWarning struct {
	Key       string
	Kept      record.Source
	Discarded record.Source
}

func (w *DuplicateConflictWarning) Error() string {
	return fmt.Sprintf("duplicate key %s with differing content: kept %s, discarded %s", w.Key, w.Kept, w.Discarded)
}

// Stats counts what the deduplicator saw
type Stats struct {
	Input      int
	Kept       int
	Duplicates int
	Conflicts  int
}

// Deduplicator keeps the first-seen or better record for each key. It is
// single-writer: callers feed it from one goroutine.
type Deduplicator struct {
	index     KeyIndex
	records   []record.Record
	conflicts []*DuplicateConflictWarning
	stats     Stats
	logger    *zap.Logger
}

// New creates a deduplicator over index. A nil index uses a MemoryIndex.
// Retained records are kept in memory whichever index is used.
func New(index KeyIndex, logger *zap.Logger) *Deduplicator {
	if index == nil {
		index = NewMemoryIndex()
	}
	return &Deduplicator{index: index, logger: observability.OrNop(logger)}
}

// Add offers one record. It returns whether r is now the retained record
// for its key and, when the key was already present with different
// content, the resulting conflict warning.
func (d *Deduplicator) Add(r record.Record) (bool, *DuplicateConflictWarning, error) {
	d.stats.Input++
	key := r.Key()
	fp := fingerprint(r)

	e, found, err := d.index.Lookup(key)
	if err != nil {
		return false, nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if !found {
		if err := d.index.Put(key, Entry{Position: len(d.records), Fingerprint: fp}); err != nil {
			return false, nil, fmt.Errorf("dedup put: %w", err)
		}
		d.records = append(d.records, r)
		d.stats.Kept++
		return true, nil, nil
	}

	if e.Fingerprint == fp {
		d.stats.Duplicates++
		return false, nil, nil
	}

	d.stats.Conflicts++
	current := d.records[e.Position]
	if !Prefer(r, current) {
		w := &DuplicateConflictWarning{Key: key, Kept: current.Source, Discarded: r.Source}
		d.warn(w)
		return false, w, nil
	}

	if err := d.index.Put(key, Entry{Position: e.Position, Fingerprint: fp}); err != nil {
		return false, nil, fmt.Errorf("dedup put: %w", err)
	}
	d.records[e.Position] = r
	w := &DuplicateConflictWarning{Key: key, Kept: r.Source, Discarded: current.Source}
	d.warn(w)
	return true, w, nil
}

func (d *Deduplicator) warn(w *DuplicateConflictWarning) {
	d.conflicts = append(d.conflicts, w)
	d.logger.Warn("duplicate key with differing content",
		zap.String("kept", w.Kept.String()),
		zap.String("discarded", w.Discarded.String()))
}

// Records returns the retained records in first-seen key order
func (d *Deduplicator) Records() []record.Record {
	out := make([]record.Record, len(d.records))
	copy(out, d.records)
	return out
}

// Conflicts returns every conflict resolved so far
func (d *Deduplicator) Conflicts() []*DuplicateConflictWarning {
	return d.conflicts
}

// Stats returns the counters
func (d *Deduplicator) Stats() Stats {
	return d.stats
}

// Close releases the index
func (d *Deduplicator) Close() error {
	return d.index.Close()
}

// Prefer reports whether candidate should replace current. Non-empty
// bodies beat empty ones, then longer bodies, then records carrying a
// contact name, then the lexicographically smaller source.
func Prefer(candidate, current record.Record) bool {
	cb, rb := len(candidate.Body) > 0, len(current.Body) > 0
	if cb != rb {
		return cb
	}
	if len(candidate.Body) != len(current.Body) {
		return len(candidate.Body) > len(current.Body)
	}
	cn, rn := candidate.ContactName != "", current.ContactName != ""
	if cn != rn {
		return cn
	}
	if candidate.Source.File != current.Source.File {
		return candidate.Source.File < current.Source.File
	}
	return candidate.Source.Ordinal < current.Source.Ordinal
}

// fingerprint hashes the content fields that are not part of the key
func fingerprint(r record.Record) uint64 {
	h := fnv.New64a()
	h.Write([]byte(r.Body))
	h.Write([]byte{0})
	h.Write([]byte(r.ContactName))
	h.Write([]byte{0})
	h.Write([]byte(r.Direction))
	h.Write([]byte{0})
	h.Write([]byte(r.RawType))
	return h.Sum64()
}

// Deduplicate returns the distinct records of rs in first-seen order.
// Applying it to its own output returns the same records.
func Deduplicate(rs []record.Record) []record.Record {
	d := New(NewMemoryIndex(), nil)
	for _, r := range rs {
		// MemoryIndex never fails
		_, _, _ = d.Add(r)
	}
	return d.Records()
}
