// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadger_RoundTrip(t *testing.T) {
	b := newTestBadger(t)

	_, ok, err := b.Load("quota/state")
	require.NoError(t, err)
	assert.False(t, ok, "missing key should report not-found, not an error")

	require.NoError(t, b.Save("quota/state", []byte(`{"used": 3}`)))
	got, ok, err := b.Load("quota/state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"used": 3}`), got)

	require.NoError(t, b.Delete("quota/state"))
	_, ok, err = b.Load("quota/state")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadger_Overwrite(t *testing.T) {
	b := newTestBadger(t)

	require.NoError(t, b.Save("circuit/state", []byte("v1")))
	require.NoError(t, b.Save("circuit/state", []byte("v2")))

	got, ok, err := b.Load("circuit/state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestBadger_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, b.Save("key", []byte("survives")))
	require.NoError(t, b.Close())

	// Reopen the same directory.
	b, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer b.Close()

	got, ok, err := b.Load("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("survives"), got)
}

func TestBadger_WrappedHandleNotClosed(t *testing.T) {
	owner := newTestBadger(t)

	wrapped := NewBadger(owner.DB())
	require.NoError(t, wrapped.Save("k", []byte("v")))
	require.NoError(t, wrapped.Close())

	// The owner's handle is still usable after the wrapper closes.
	got, ok, err := owner.Load("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
