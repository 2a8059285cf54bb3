// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperioesca/aperioesca/services/analysis/store"
)

func newTestBreaker(t *testing.T, clock *fixedClock) (*CircuitBreaker, store.Store) {
	t.Helper()
	st := store.NewMemory()
	cb := NewCircuitBreaker(st, CircuitConfig{Clock: clock.Now})
	require.NoError(t, cb.Initialize())
	return cb, st
}

// tripBreaker records failures up to the default threshold.
func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < 5; i++ {
		require.NoError(t, cb.RecordFailure())
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(t, noonClock())

	snap := cb.Snapshot()
	assert.Equal(t, CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)

	ok, err := cb.CanMakeRequest()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, noonClock())

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.RecordFailure())
		assert.Equal(t, CircuitClosed, cb.Snapshot().State,
			"circuit opened early at failure %d", i+1)
	}

	require.NoError(t, cb.RecordFailure())
	snap := cb.Snapshot()
	assert.Equal(t, CircuitOpen, snap.State)
	require.NotNil(t, snap.NextRetryTime)

	ok, err := cb.CanMakeRequest()
	require.NoError(t, err)
	assert.False(t, ok, "OPEN circuit allowed a request")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t, noonClock())

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.RecordFailure())
	}
	require.NoError(t, cb.RecordSuccess())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)

	// Four more failures still do not open the circuit.
	for i := 0; i < 4; i++ {
		require.NoError(t, cb.RecordFailure())
	}
	assert.Equal(t, CircuitClosed, cb.Snapshot().State)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	clock := noonClock()
	cb, _ := newTestBreaker(t, clock)
	tripBreaker(t, cb)

	// One second before the timeout, still open.
	clock.Advance(59 * time.Second)
	ok, err := cb.CanMakeRequest()
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)
	ok, err = cb.CanMakeRequest()
	require.NoError(t, err)
	assert.True(t, ok, "probe not allowed after reset timeout")
	assert.Equal(t, CircuitHalfOpen, cb.Snapshot().State)
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	clock := noonClock()
	cb, _ := newTestBreaker(t, clock)
	tripBreaker(t, cb)
	clock.Advance(61 * time.Second)

	_, err := cb.CanMakeRequest()
	require.NoError(t, err)
	require.Equal(t, CircuitHalfOpen, cb.Snapshot().State)

	// One success is not enough.
	require.NoError(t, cb.RecordSuccess())
	assert.Equal(t, CircuitHalfOpen, cb.Snapshot().State)

	require.NoError(t, cb.RecordSuccess())
	snap := cb.Snapshot()
	assert.Equal(t, CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Nil(t, snap.LastFailureTime)
	assert.Nil(t, snap.NextRetryTime)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := noonClock()
	cb, _ := newTestBreaker(t, clock)
	tripBreaker(t, cb)
	clock.Advance(61 * time.Second)

	_, err := cb.CanMakeRequest()
	require.NoError(t, err)
	require.Equal(t, CircuitHalfOpen, cb.Snapshot().State)

	require.NoError(t, cb.RecordFailure())
	snap := cb.Snapshot()
	assert.Equal(t, CircuitOpen, snap.State)
	require.NotNil(t, snap.NextRetryTime)

	// Fresh retry window from the half-open failure.
	wait, ok := cb.TimeUntilRetry()
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, wait)
}

func TestCircuitBreaker_TimeUntilRetry(t *testing.T) {
	clock := noonClock()
	cb, _ := newTestBreaker(t, clock)

	_, ok := cb.TimeUntilRetry()
	assert.False(t, ok, "CLOSED circuit should not report a retry time")

	tripBreaker(t, cb)
	clock.Advance(20 * time.Second)

	wait, ok := cb.TimeUntilRetry()
	require.True(t, ok)
	assert.Equal(t, 40*time.Second, wait)
}

func TestCircuitBreaker_PersistedAcrossRestart(t *testing.T) {
	clock := noonClock()
	cb, st := newTestBreaker(t, clock)
	tripBreaker(t, cb)

	// New breaker over the same store sees the outage.
	reborn := NewCircuitBreaker(st, CircuitConfig{Clock: clock.Now})
	require.NoError(t, reborn.Initialize())

	ok, err := reborn.CanMakeRequest()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, CircuitOpen, reborn.Snapshot().State)
}

func TestCircuitBreaker_RestartAfterTimeoutGoesHalfOpen(t *testing.T) {
	clock := noonClock()
	cb, st := newTestBreaker(t, clock)
	tripBreaker(t, cb)

	// Restart well past the reset timeout: Initialize applies the lazy
	// transition.
	clock.Advance(5 * time.Minute)
	reborn := NewCircuitBreaker(st, CircuitConfig{Clock: clock.Now})
	require.NoError(t, reborn.Initialize())

	assert.Equal(t, CircuitHalfOpen, reborn.Snapshot().State)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(t, noonClock())
	tripBreaker(t, cb)

	require.NoError(t, cb.Reset())
	snap := cb.Snapshot()
	assert.Equal(t, CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)

	ok, err := cb.CanMakeRequest()
	require.NoError(t, err)
	assert.True(t, ok)
}
