// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit enforces the relay's per-device limits.
//
// Two independent gates apply to every device:
//
//   - a daily counter persisted in BadgerDB — the authoritative analysis
//     allowance (the client's local quota manager only mirrors it), and
//   - an in-memory token bucket (golang.org/x/time/rate) that rejects
//     bursts faster than a human taking meal photos.
//
// The daily counter is server state and cannot be bypassed by
// reinstalling the app; counters are keyed by device and day and expire
// from the database on their own.
package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/time/rate"
)

// counterTTL keeps expired day counters from accumulating in the database.
const counterTTL = 48 * time.Hour

// Reason says which gate rejected a request.
type Reason string

const (
	ReasonDailyLimit Reason = "daily_limit"
	ReasonBurst      Reason = "burst"
)

// Usage is a device's standing against the daily limit.
type Usage struct {
	DailyLimit int       `json:"dailyLimit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"resetAt"`
}

// Limits are the tunable thresholds, swappable at runtime via SetLimits.
type Limits struct {
	DailyPerDevice int
	BurstInterval  time.Duration
	BurstSize      int
}

// DeviceLimiter applies both gates for all devices.
//
// # Thread Safety
//
// Safe for concurrent use. Daily increments run inside Badger update
// transactions; the burst buckets are guarded by a mutex.
type DeviceLimiter struct {
	db  *badger.DB
	now func() time.Time

	mu     sync.Mutex
	limits Limits
	burst  map[string]*rate.Limiter
}

// Config configures a DeviceLimiter.
type Config struct {
	Limits Limits

	// Clock overrides the time source. Used by tests.
	Clock func() time.Time
}

// New creates a limiter over an open database handle.
func New(db *badger.DB, cfg Config) (*DeviceLimiter, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if cfg.Limits.DailyPerDevice <= 0 {
		cfg.Limits.DailyPerDevice = 10
	}
	if cfg.Limits.BurstInterval <= 0 {
		cfg.Limits.BurstInterval = 2 * time.Second
	}
	if cfg.Limits.BurstSize <= 0 {
		cfg.Limits.BurstSize = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &DeviceLimiter{
		db:     db,
		now:    cfg.Clock,
		limits: cfg.Limits,
		burst:  make(map[string]*rate.Limiter),
	}, nil
}

// SetLimits swaps the thresholds. Called on config hot reload. Existing
// burst buckets are discarded so the new rate applies immediately.
func (l *DeviceLimiter) SetLimits(limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limits.DailyPerDevice > 0 {
		l.limits.DailyPerDevice = limits.DailyPerDevice
	}
	if limits.BurstInterval > 0 {
		l.limits.BurstInterval = limits.BurstInterval
	}
	if limits.BurstSize > 0 {
		l.limits.BurstSize = limits.BurstSize
	}
	l.burst = make(map[string]*rate.Limiter)
}

// Allow consumes one unit of a device's allowance.
//
// The burst bucket is checked first (it is free to refuse), then the daily
// counter is incremented transactionally. A rejected request consumes
// nothing.
func (l *DeviceLimiter) Allow(deviceID string) (bool, Reason, error) {
	if !l.burstLimiter(deviceID).Allow() {
		return false, ReasonBurst, nil
	}

	key := l.counterKey(deviceID)
	allowed := false
	err := l.db.Update(func(txn *badger.Txn) error {
		used, err := readCounter(txn, key)
		if err != nil {
			return err
		}
		if used >= l.dailyLimit() {
			return nil
		}
		allowed = true
		entry := badger.NewEntry(key, []byte(strconv.Itoa(used+1))).WithTTL(counterTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, "", fmt.Errorf("update usage counter: %w", err)
	}
	if !allowed {
		return false, ReasonDailyLimit, nil
	}
	return true, "", nil
}

// Usage reports a device's standing without consuming allowance.
func (l *DeviceLimiter) Usage(deviceID string) (Usage, error) {
	var used int
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		used, err = readCounter(txn, l.counterKey(deviceID))
		return err
	})
	if err != nil {
		return Usage{}, fmt.Errorf("read usage counter: %w", err)
	}

	limit := l.dailyLimit()
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	now := l.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return Usage{
		DailyLimit: limit,
		Used:       used,
		Remaining:  remaining,
		ResetAt:    midnight,
	}, nil
}

func (l *DeviceLimiter) dailyLimit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits.DailyPerDevice
}

// counterKey is day-scoped, so a new day starts at zero without any reset
// job.
func (l *DeviceLimiter) counterKey(deviceID string) []byte {
	day := l.now().Format("2006-01-02")
	return []byte("relay/usage/" + day + "/" + deviceID)
}

func (l *DeviceLimiter) burstLimiter(deviceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.burst[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.limits.BurstInterval), l.limits.BurstSize)
		l.burst[deviceID] = limiter
	}
	return limiter
}

func readCounter(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var used int
	err = item.Value(func(val []byte) error {
		used, err = strconv.Atoi(string(val))
		return err
	})
	return used, err
}
