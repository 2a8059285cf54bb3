// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aperioesca/aperioesca/services/analysis/store"
)

// quotaStateKey is the fixed key under which the quota record is persisted.
const quotaStateKey = "quota/state"

// retryBudgetPercent is the share of the daily limit ring-fenced for
// automatic retries. Retries draw from this pool so a flaky upstream cannot
// silently burn the whole daily allowance.
const retryBudgetPercent = 0.10

// approachingLimitRatio is the usage ratio at which a soft warning is
// surfaced.
const approachingLimitRatio = 0.8

// QuotaConfig configures a QuotaManager.
type QuotaConfig struct {
	// DailyLimit is the number of analysis attempts allowed per local day.
	// Default: 50. Note that the relay enforces its own, authoritative
	// server-side limit; this local counter is an advisory cache.
	DailyLimit int

	// Clock overrides the time source. Used by tests. Default: time.Now.
	Clock func() time.Time

	// Logger receives persistence failures. Default: slog.Default().
	Logger *slog.Logger
}

// QuotaManager tracks per-day usage against a daily limit and a smaller
// retry sub-budget.
//
// # Persistence
//
// The whole record is written as one JSON blob on every mutation. The store
// is the sole source of truth across restarts; a record whose reset time
// has passed is replaced with a fresh one on Initialize.
//
// # Thread Safety
//
// QuotaManager is safe for concurrent use. Counter updates are applied
// atomically per completed attempt under an internal mutex.
type QuotaManager struct {
	store  store.Store
	limit  int
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	info *QuotaInfo
}

// NewQuotaManager creates a quota manager owning its persistence handle.
//
// The manager is not initialized until Initialize is called; every read
// operation initializes lazily as well.
func NewQuotaManager(st store.Store, cfg QuotaConfig) *QuotaManager {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 50
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &QuotaManager{
		store:  st,
		limit:  cfg.DailyLimit,
		now:    cfg.Clock,
		logger: cfg.Logger,
	}
}

// Initialize loads the persisted record, replacing it with a fresh one when
// it is missing, unreadable, or past its reset time. Idempotent.
func (q *QuotaManager) Initialize() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initLocked()
}

func (q *QuotaManager) initLocked() error {
	raw, ok, err := q.store.Load(quotaStateKey)
	if err != nil {
		return fmt.Errorf("load quota state: %w", err)
	}

	if ok {
		var info QuotaInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			q.logger.Warn("discarding unreadable quota record", "error", err)
		} else if q.now().Before(info.ResetAt) {
			q.info = &info
			return nil
		}
	}

	q.info = q.freshQuota()
	return q.saveLocked()
}

// freshQuota builds a zeroed record expiring at the next local midnight.
func (q *QuotaManager) freshQuota() *QuotaInfo {
	now := q.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return &QuotaInfo{
		DailyLimit:  q.limit,
		Used:        0,
		Remaining:   q.limit,
		RetryBudget: int(math.Floor(float64(q.limit) * retryBudgetPercent)),
		ResetAt:     midnight,
	}
}

// ensureLocked initializes lazily and rolls the record over when the reset
// time has passed.
func (q *QuotaManager) ensureLocked() error {
	if q.info == nil {
		return q.initLocked()
	}
	if !q.now().Before(q.info.ResetAt) {
		q.info = q.freshQuota()
		return q.saveLocked()
	}
	return nil
}

// CanMakeRequest reports whether a request may be dispatched.
//
// For retries it checks the ring-fenced retry budget; otherwise the primary
// budget. Pure read: a rejected request never mutates the counters.
func (q *QuotaManager) CanMakeRequest(isRetry bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLocked(); err != nil {
		return false, err
	}
	if isRetry {
		return q.info.RetryBudgetUsed < q.info.RetryBudget, nil
	}
	return q.info.Remaining > 0, nil
}

// RecordRequest consumes one unit from the primary budget, or from the
// retry budget when isRetry is set, and persists immediately.
//
// Must be called exactly once per actually-dispatched network attempt and
// never on a pre-flight rejection. Attempts cost quota regardless of their
// outcome.
func (q *QuotaManager) RecordRequest(isRetry bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLocked(); err != nil {
		return err
	}
	if isRetry {
		q.info.RetryBudgetUsed++
	} else {
		q.info.Used++
		q.info.Remaining = q.info.DailyLimit - q.info.Used
	}
	return q.saveLocked()
}

// Info returns a read-only snapshot of the current record.
func (q *QuotaManager) Info() (QuotaInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLocked(); err != nil {
		return QuotaInfo{}, err
	}
	return *q.info, nil
}

// ApproachingLimit reports whether usage has reached 80% of the daily
// limit.
func (q *QuotaManager) ApproachingLimit() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ensureLocked(); err != nil {
		return false, err
	}
	ratio := float64(q.info.Used) / float64(q.info.DailyLimit)
	return ratio >= approachingLimitRatio, nil
}

// Reset discards the current record and starts a fresh day. Test and debug
// hook.
func (q *QuotaManager) Reset() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.info = q.freshQuota()
	return q.saveLocked()
}

// saveLocked overwrites the persisted record with the in-memory one.
func (q *QuotaManager) saveLocked() error {
	raw, err := json.Marshal(q.info)
	if err != nil {
		return fmt.Errorf("marshal quota state: %w", err)
	}
	if err := q.store.Save(quotaStateKey, raw); err != nil {
		return fmt.Errorf("persist quota state: %w", err)
	}
	return nil
}
