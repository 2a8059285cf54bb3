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
	"sync"
	"time"

	"github.com/aperioesca/aperioesca/services/analysis/store"
)

// circuitStateKey is the fixed key under which the breaker record is
// persisted.
const circuitStateKey = "circuit/state"

// CircuitConfig configures circuit breaker behavior.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required to
	// close the circuit from half-open. A single lucky probe is not enough
	// to close; this avoids flapping. Default: 2.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 60 seconds.
	ResetTimeout time.Duration

	// Clock overrides the time source. Used by tests. Default: time.Now.
	Clock func() time.Time

	// Logger receives state transition events. Default: slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker shields the upstream provider from being hammered during
// outages.
//
// # State Machine
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ────┘
//	   ▲                              │
//	   │                              │ [reset timeout]
//	   └──[success threshold]── HALF_OPEN
//
// The OPEN→HALF_OPEN transition happens lazily: the instant CanMakeRequest
// or Initialize observes that the reset timeout has elapsed. Any failure in
// HALF_OPEN reopens the circuit immediately with a fresh retry time.
//
// # Persistence
//
// The full record is written as one JSON blob after every recorded outcome,
// so an outage survives a process restart.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	store  store.Store
	cfg    CircuitConfig
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
	state  CircuitSnapshot
	loaded bool
}

// NewCircuitBreaker creates a breaker in the CLOSED state with zero
// counters, owning its persistence handle.
func NewCircuitBreaker(st store.Store, cfg CircuitConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		store:  st,
		cfg:    cfg,
		now:    cfg.Clock,
		logger: cfg.Logger,
		state:  CircuitSnapshot{State: CircuitClosed},
	}
}

// Initialize loads the persisted record and applies any pending
// OPEN→HALF_OPEN transition. Idempotent.
func (cb *CircuitBreaker) Initialize() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.initLocked()
}

func (cb *CircuitBreaker) initLocked() error {
	if cb.loaded {
		cb.maybeHalfOpenLocked()
		return nil
	}
	raw, ok, err := cb.store.Load(circuitStateKey)
	if err != nil {
		return fmt.Errorf("load circuit state: %w", err)
	}
	if ok {
		var snap CircuitSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			cb.logger.Warn("discarding unreadable circuit record", "error", err)
		} else {
			cb.state = snap
		}
	}
	cb.loaded = true
	cb.maybeHalfOpenLocked()
	return nil
}

// maybeHalfOpenLocked performs the lazy OPEN→HALF_OPEN transition.
func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state.State != CircuitOpen || cb.state.NextRetryTime == nil {
		return
	}
	if !cb.now().Before(*cb.state.NextRetryTime) {
		cb.transitionLocked(CircuitHalfOpen)
		cb.state.SuccessCount = 0
		if err := cb.saveLocked(); err != nil {
			cb.logger.Error("persist circuit state", "error", err)
		}
	}
}

// CanMakeRequest reports whether a request may be issued.
//
// CLOSED and HALF_OPEN allow requests. OPEN allows a request only once the
// reset timeout has elapsed, in which case the circuit transitions to
// HALF_OPEN first.
func (cb *CircuitBreaker) CanMakeRequest() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.initLocked(); err != nil {
		return false, err
	}
	switch cb.state.State {
	case CircuitClosed, CircuitHalfOpen:
		return true, nil
	default:
		return false, nil
	}
}

// RecordSuccess records a successful call outcome.
//
// In CLOSED it resets the failure count. In HALF_OPEN it counts toward the
// success threshold and closes the circuit once the threshold is met.
func (cb *CircuitBreaker) RecordSuccess() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.initLocked(); err != nil {
		return err
	}

	switch cb.state.State {
	case CircuitClosed:
		cb.state.FailureCount = 0
	case CircuitHalfOpen:
		cb.state.SuccessCount++
		if cb.state.SuccessCount >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
			cb.state.FailureCount = 0
			cb.state.SuccessCount = 0
			cb.state.LastFailureTime = nil
			cb.state.NextRetryTime = nil
		}
	}
	return cb.saveLocked()
}

// RecordFailure records a failed call outcome.
//
// A failure in HALF_OPEN reopens the circuit immediately; in CLOSED the
// circuit opens once the failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.initLocked(); err != nil {
		return err
	}

	now := cb.now()
	cb.state.FailureCount++
	cb.state.LastFailureTime = &now

	if cb.state.State == CircuitHalfOpen {
		retry := now.Add(cb.cfg.ResetTimeout)
		cb.transitionLocked(CircuitOpen)
		cb.state.SuccessCount = 0
		cb.state.NextRetryTime = &retry
	} else if cb.state.FailureCount >= cb.cfg.FailureThreshold {
		retry := now.Add(cb.cfg.ResetTimeout)
		cb.transitionLocked(CircuitOpen)
		cb.state.NextRetryTime = &retry
	}
	return cb.saveLocked()
}

// TimeUntilRetry returns how long until the next probe is allowed. The
// boolean is false unless the circuit is OPEN with a retry time set.
func (cb *CircuitBreaker) TimeUntilRetry() (time.Duration, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state.State != CircuitOpen || cb.state.NextRetryTime == nil {
		return 0, false
	}
	d := cb.state.NextRetryTime.Sub(cb.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// Snapshot returns a copy of the current breaker record.
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit to CLOSED with zero counters.
func (cb *CircuitBreaker) Reset() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitSnapshot{State: CircuitClosed}
	cb.loaded = true
	return cb.saveLocked()
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	if cb.state.State == to {
		return
	}
	cb.logger.Info("circuit state change",
		"from", string(cb.state.State), "to", string(to),
		"failures", cb.state.FailureCount)
	cb.state.State = to
}

func (cb *CircuitBreaker) saveLocked() error {
	raw, err := json.Marshal(cb.state)
	if err != nil {
		return fmt.Errorf("marshal circuit state: %w", err)
	}
	if err := cb.store.Save(circuitStateKey, raw); err != nil {
		return fmt.Errorf("persist circuit state: %w", err)
	}
	return nil
}
