// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// RetryConfig controls the bounded exponential backoff applied to
// transient failures.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first.
	// Default: 3.
	MaxRetries int

	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it. Default: 1 second.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 8 seconds.
	MaxDelay time.Duration

	// RetryableKinds is the set of error kinds worth retrying. Kinds
	// outside this set fail immediately even when marked retryable.
	RetryableKinds []Kind
}

// DefaultRetryConfig returns the production retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
		RetryableKinds: []Kind{
			KindNetworkError,
			KindServiceUnavailable,
			KindInvalidResponse,
			KindUnknown,
		},
	}
}

func (c RetryConfig) retryable(kind Kind) bool {
	for _, k := range c.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Orchestrator is the coordinating unit consumed by the UI layer.
//
// For each analysis it checks the circuit breaker and quota before issuing
// a call, invokes the transport, classifies failures, applies the retry
// policy, and updates the breaker and quota based on the outcome. Only a
// validated *Result or a classified *Error crosses this boundary.
//
// # Concurrency
//
// A single logical request is expected per user action, but concurrent
// Analyze calls for the same payload are coalesced through a single-flight
// group so the persisted counters never see a concurrent-increment race
// for duplicate work.
type Orchestrator struct {
	quota     *QuotaManager
	circuit   *CircuitBreaker
	transport Transport
	retry     RetryConfig
	logger    *slog.Logger

	// sleep is swapped out by tests to make backoff instantaneous.
	sleep func(ctx context.Context, d time.Duration) error

	flight singleflight.Group
}

// NewOrchestrator wires an orchestrator from its collaborators. All
// dependencies are explicit; the caller (composition root) owns their
// lifetimes.
func NewOrchestrator(quota *QuotaManager, circuit *CircuitBreaker, transport Transport, retry RetryConfig, logger *slog.Logger) *Orchestrator {
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		quota:     quota,
		circuit:   circuit,
		transport: transport,
		retry:     retry,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Initialize loads the persisted quota and circuit state. Idempotent; also
// performed lazily by Analyze.
func (o *Orchestrator) Initialize() error {
	if err := o.quota.Initialize(); err != nil {
		return err
	}
	return o.circuit.Initialize()
}

// Analyze turns a payload into a validated Result or a classified *Error.
//
// Pre-flight gates reject without consuming quota or touching the network:
//
//   - circuit OPEN        -> SERVICE_UNAVAILABLE with seconds until retry
//   - daily quota spent   -> QUOTA_EXCEEDED with the reset time
//
// Past the gates, each dispatched attempt costs one quota unit (primary
// budget for the first attempt, retry budget for the rest) regardless of
// its outcome.
func (o *Orchestrator) Analyze(ctx context.Context, payload Payload) (*Result, error) {
	if err := o.Initialize(); err != nil {
		return nil, Classify(err)
	}

	canCall, err := o.circuit.CanMakeRequest()
	if err != nil {
		return nil, Classify(err)
	}
	if !canCall {
		seconds := 60
		if wait, ok := o.circuit.TimeUntilRetry(); ok {
			seconds = int(wait.Seconds()) + 1
		}
		return nil, newError(KindServiceUnavailable,
			fmt.Sprintf("AI service temporarily unavailable. Please try again in %d seconds.", seconds),
			false, nil)
	}

	canSpend, err := o.quota.CanMakeRequest(false)
	if err != nil {
		return nil, Classify(err)
	}
	if !canSpend {
		info, err := o.quota.Info()
		if err != nil {
			return nil, Classify(err)
		}
		return nil, newError(KindQuotaExceeded,
			fmt.Sprintf("Daily limit of %d analyses reached. Resets at %s.",
				info.DailyLimit, info.ResetAt.Format(time.Kitchen)),
			false, nil)
	}

	// Coalesce concurrent calls for the same image; duplicates share one
	// network pipeline and one quota spend.
	value, err, _ := o.flight.Do(payload.Hash(), func() (interface{}, error) {
		return o.analyzeWithRetry(ctx, payload)
	})
	if err != nil {
		return nil, AsError(err)
	}
	return value.(*Result), nil
}

// analyzeWithRetry runs the attempt loop.
func (o *Orchestrator) analyzeWithRetry(ctx context.Context, payload Payload) (*Result, error) {
	var lastErr *Error

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		isRetry := attempt > 0

		if isRetry {
			canRetry, err := o.quota.CanMakeRequest(true)
			if err != nil {
				return nil, Classify(err)
			}
			if !canRetry {
				// The ring-fenced retry pool is spent; never fall back to
				// the primary budget.
				return nil, newError(KindQuotaExceeded,
					"Retry limit reached. Please try again later.", false, lastErr)
			}
		}

		// Attempts cost quota before dispatch, not just successes.
		if err := o.quota.RecordRequest(isRetry); err != nil {
			return nil, Classify(err)
		}

		result, err := o.transport.Analyze(ctx, payload)
		if err == nil {
			if err := o.circuit.RecordSuccess(); err != nil {
				o.logger.Error("record circuit success", "error", err)
			}
			if warn, err := o.quota.ApproachingLimit(); err == nil && warn {
				o.logger.Warn("approaching daily analysis limit")
			}
			return result, nil
		}

		classified := Classify(err)

		// A tier-1 negative is a valid classification, not an upstream
		// failure: no breaker update, no retry.
		if classified.Kind == KindNotFood {
			return nil, classified
		}

		if err := o.circuit.RecordFailure(); err != nil {
			o.logger.Error("record circuit failure", "error", err)
		}
		lastErr = classified

		if !o.shouldRetry(classified, attempt) {
			return nil, classified
		}

		delay := o.backoff(attempt)
		o.logger.Info("retrying analysis",
			"attempt", attempt+1,
			"max_retries", o.retry.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"kind", string(classified.Kind))
		if err := o.sleep(ctx, delay); err != nil {
			return nil, Classify(err)
		}
	}
	return nil, lastErr
}

// shouldRetry applies the retry decision for a classified failure at the
// given attempt index.
func (o *Orchestrator) shouldRetry(err *Error, attempt int) bool {
	if attempt >= o.retry.MaxRetries {
		return false
	}
	if !err.Retryable || !o.retry.retryable(err.Kind) {
		return false
	}
	// A malformed response is worth exactly one more shot; past that the
	// upstream is answering garbage consistently.
	if err.Kind == KindInvalidResponse && attempt > 0 {
		return false
	}
	return true
}

// backoff computes min(base * 2^attempt, max).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.retry.BaseDelay << uint(attempt)
	if delay > o.retry.MaxDelay || delay <= 0 {
		delay = o.retry.MaxDelay
	}
	return delay
}

// QuotaInfo exposes the quota snapshot for status displays.
func (o *Orchestrator) QuotaInfo() (QuotaInfo, error) {
	return o.quota.Info()
}

// CircuitSnapshot exposes the breaker record for status displays.
func (o *Orchestrator) CircuitSnapshot() CircuitSnapshot {
	return o.circuit.Snapshot()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
