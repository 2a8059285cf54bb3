// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperioesca/aperioesca/services/analysis/store"
)

func newTestLimiter(t *testing.T, limits Limits, clock func() time.Time) *DeviceLimiter {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	limiter, err := New(db.DB(), Config{Limits: limits, Clock: clock})
	require.NoError(t, err)
	return limiter
}

// noBurst effectively disables the burst gate so daily-limit tests are
// not polluted by it.
func noBurst(daily int) Limits {
	return Limits{
		DailyPerDevice: daily,
		BurstInterval:  time.Nanosecond,
		BurstSize:      1000,
	}
}

func fixedDay() func() time.Time {
	day := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return day }
}

func TestDeviceLimiter_DailyLimit(t *testing.T) {
	limiter := newTestLimiter(t, noBurst(3), fixedDay())

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow("device-1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, reason, err := limiter.Allow("device-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonDailyLimit, reason)
}

func TestDeviceLimiter_DevicesAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, noBurst(1), fixedDay())

	ok, _, err := limiter.Allow("device-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = limiter.Allow("device-2")
	require.NoError(t, err)
	assert.True(t, ok, "device-2 should have its own allowance")
}

func TestDeviceLimiter_NewDayNewAllowance(t *testing.T) {
	day := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return day }
	limiter := newTestLimiter(t, noBurst(1), clock)

	ok, _, err := limiter.Allow("device-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, _ = limiter.Allow("device-1")
	require.False(t, ok)

	// The day key rolls over; no reset job needed.
	day = day.Add(2 * time.Hour)
	ok, _, err = limiter.Allow("device-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeviceLimiter_BurstGate(t *testing.T) {
	limiter := newTestLimiter(t, Limits{
		DailyPerDevice: 100,
		BurstInterval:  time.Hour, // no refill within the test
		BurstSize:      3,
	}, fixedDay())

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow("device-1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, reason, err := limiter.Allow("device-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ReasonBurst, reason)

	// A burst rejection consumes no daily allowance.
	usage, err := limiter.Usage("device-1")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)
}

func TestDeviceLimiter_Usage(t *testing.T) {
	limiter := newTestLimiter(t, noBurst(10), fixedDay())

	usage, err := limiter.Usage("device-1")
	require.NoError(t, err)
	assert.Equal(t, 10, usage.DailyLimit)
	assert.Equal(t, 0, usage.Used)
	assert.Equal(t, 10, usage.Remaining)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), usage.ResetAt)

	for i := 0; i < 4; i++ {
		_, _, err := limiter.Allow("device-1")
		require.NoError(t, err)
	}
	usage, err = limiter.Usage("device-1")
	require.NoError(t, err)
	assert.Equal(t, 4, usage.Used)
	assert.Equal(t, 6, usage.Remaining)
}

func TestDeviceLimiter_SetLimits(t *testing.T) {
	limiter := newTestLimiter(t, noBurst(1), fixedDay())

	ok, _, err := limiter.Allow("device-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _, _ = limiter.Allow("device-1")
	require.False(t, ok)

	// Raising the limit takes effect immediately.
	limiter.SetLimits(Limits{DailyPerDevice: 5})
	ok, _, err = limiter.Allow("device-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
