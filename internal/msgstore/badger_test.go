// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package msgstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewBadgerStore(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreWriteReadRemove(t *testing.T) {
	s := setupBadgerStore(t)
	h, err := s.ClientInit("q1", uuid.New())
	require.NoError(t, err)

	guid := uuid.New()
	h, err = s.Write(h, guid, []byte("hello"))
	require.NoError(t, err)

	body, h, err := s.Read(h, guid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)

	ok, err := s.Contains("q1", guid)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Remove(h, []uuid.UUID{guid}))
	_, _, err = s.Read(h, guid)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.Contains("q1", guid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerStoreRecoveryMarker(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(BadgerConfig{Dir: dir})
	require.NoError(t, err)

	assert.False(t, s.SuccessfullyRecoveredState("q1"), "first run has no clean-shutdown marker")

	h, err := s.ClientInit("q1", uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.ClientTerminate(h))
	require.NoError(t, s.Close())

	s2, err := NewBadgerStore(BadgerConfig{Dir: dir})
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.SuccessfullyRecoveredState("q1"))
	assert.False(t, s2.SuccessfullyRecoveredState("q1"), "marker is consumed by the first check")
}

func TestBadgerStoreSyncInvokesCallback(t *testing.T) {
	s := setupBadgerStore(t)
	h, err := s.ClientInit("q1", uuid.New())
	require.NoError(t, err)
	guid := uuid.New()
	_, err = s.Write(h, guid, []byte("durable"))
	require.NoError(t, err)

	called := false
	require.NoError(t, s.Sync("q1", []uuid.UUID{guid}, func(syncErr error) {
		called = true
		assert.NoError(t, syncErr)
	}))
	assert.True(t, called)
}

func TestBadgerStoreCleanWipesQueuePrefixOnly(t *testing.T) {
	s := setupBadgerStore(t)
	h1, err := s.ClientInit("q1", uuid.New())
	require.NoError(t, err)
	h2, err := s.ClientInit("q2", uuid.New())
	require.NoError(t, err)

	g1, g2 := uuid.New(), uuid.New()
	_, err = s.Write(h1, g1, []byte("a"))
	require.NoError(t, err)
	_, err = s.Write(h2, g2, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, s.Clean("q1", ""))

	ok, err := s.Contains("q1", g1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Contains("q2", g2)
	require.NoError(t, err)
	assert.True(t, ok)
}
