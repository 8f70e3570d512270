// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package dedup

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// Entry is what the index keeps per dedup key: where the retained record
// sits in the output and a fingerprint of its content.
type Entry struct {
	Position    int
	Fingerprint uint64
}

// KeyIndex is the set of dedup keys seen in a run
type KeyIndex interface {
	Lookup(key string) (Entry, bool, error)
	Put(key string, e Entry) error
	Len() int
	Close() error
}

// MemoryIndex is an in-process KeyIndex
type MemoryIndex struct {
	entries map[string]Entry
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Lookup(key string) (Entry, bool, error) {
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryIndex) Put(key string, e Entry) error {
	m.entries[key] = e
	return nil
}

func (m *MemoryIndex) Len() int {
	return len(m.entries)
}

func (m *MemoryIndex) Close() error {
	return nil
}

// BadgerIndex keeps the key set on disk so the key index does not grow
// process memory on very large export sets. Only the index moves to disk;
// the Deduplicator still holds every retained record in memory. It is
// scratch state: opening drops any keys a previous run left behind.
type BadgerIndex struct {
	db    *badger.DB
	count int
}

// OpenBadgerIndex opens (or creates) an index directory at dir
func OpenBadgerIndex(dir string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(false)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup index: %w", err)
	}
	if err := db.DropAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reset dedup index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

func (b *BadgerIndex) Lookup(key string) (Entry, bool, error) {
	var e Entry
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 16 {
				return fmt.Errorf("corrupt dedup entry for %q", key)
			}
			e.Position = int(binary.BigEndian.Uint64(val[:8]))
			e.Fingerprint = binary.BigEndian.Uint64(val[8:])
			found = true
			return nil
		})
	})
	return e, found, err
}

func (b *BadgerIndex) Put(key string, e Entry) error {
	val := make([]byte, 16)
	binary.BigEndian.PutUint64(val[:8], uint64(e.Position))
	binary.BigEndian.PutUint64(val[8:], e.Fingerprint)

	existed := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			existed = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), val)
	})
	if err == nil && !existed {
		b.count++
	}
	return err
}

func (b *BadgerIndex) Len() int {
	return b.count
}

func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
