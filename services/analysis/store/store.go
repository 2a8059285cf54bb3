// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides the persistence handles owned by the resilience
// layer: single JSON blobs under fixed keys, fully overwritten on every
// mutation.
//
// Whole-record overwrite is deliberate. The quota and circuit records are
// mutated by at most one logical request at a time, and replacing the blob
// avoids field-level lost updates under the rare concurrent access that a
// single client can produce.
package store

import "sync"

// Store persists small state records by key.
//
// Implementations must treat Save as a complete overwrite of the record.
type Store interface {
	// Load returns the record for key. The boolean reports whether the
	// record exists; a missing record is not an error.
	Load(key string) ([]byte, bool, error)

	// Save overwrites the record for key.
	Save(key string, value []byte) error

	// Delete removes the record for key. Deleting a missing record is a
	// no-op.
	Delete(key string) error
}

// Memory is an in-process Store for tests and ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Load(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *Memory) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(value))
	copy(out, value)
	m.records[key] = out
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}
