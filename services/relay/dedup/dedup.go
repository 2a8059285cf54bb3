// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dedup rejects identical analysis requests inside a short window.
//
// A stuck retry loop on a client resubmits the same image over and over;
// each resubmission would burn upstream spend for an answer the client
// already received. The index remembers image digests for a configurable
// window and refuses repeats. State is in-memory on purpose: losing it on
// restart only means one duplicate slips through.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Index is a TTL set of recently seen image digests.
//
// # Thread Safety
//
// Safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

// Config configures an Index.
type Config struct {
	// Window is how long a digest blocks repeats. Default: 5 minutes.
	Window time.Duration

	// Clock overrides the time source. Used by tests.
	Clock func() time.Time
}

// New creates an empty index.
func New(cfg Config) *Index {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Index{
		window:  cfg.Window,
		now:     cfg.Clock,
		entries: make(map[string]time.Time),
	}
}

// Hash digests raw image bytes for indexing. Exported so callers can log
// or correlate the same digest the index uses.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Seen records digest and reports whether it was already present within
// the window. The first caller gets false and claims the slot; repeats
// within the window get true.
func (i *Index) Seen(digest string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.sweepLocked(now)

	if at, ok := i.entries[digest]; ok && now.Sub(at) < i.window {
		return true
	}
	i.entries[digest] = now
	return false
}

// Forget releases a claimed digest. Called when the analysis behind the
// claim failed, so a legitimate client retry is not treated as a
// duplicate.
func (i *Index) Forget(digest string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.entries, digest)
}

// SetWindow swaps the dedup window. Called on config hot reload.
func (i *Index) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.window = window
}

// sweepLocked drops expired digests. Runs under the mutex on every Seen;
// the map is bounded by the request rate times the window, so a full scan
// is cheap.
func (i *Index) sweepLocked(now time.Time) {
	for digest, at := range i.entries {
		if now.Sub(at) >= i.window {
			delete(i.entries, digest)
		}
	}
}
