// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package msgstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreWriteReadRemove(t *testing.T) {
	s := NewMemoryStore()
	h, err := s.ClientInit("q1", uuid.New())
	require.NoError(t, err)

	guid := uuid.New()
	body := []byte("hello")
	h, err = s.Write(h, guid, body)
	require.NoError(t, err)

	// Mutating the caller's slice after Write must not affect the stored copy.
	body[0] = 'x'
	got, _, err := s.Read(h, guid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	require.NoError(t, s.Remove(h, []uuid.UUID{guid}))
	_, _, err = s.Read(h, guid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreNeverReportsRecovered(t *testing.T) {
	s := NewMemoryStore()
	assert.False(t, s.SuccessfullyRecoveredState("q1"))
}

func TestMemoryStoreCleanWipesQueuePrefixOnly(t *testing.T) {
	s := NewMemoryStore()
	h1, _ := s.ClientInit("q1", uuid.New())
	h2, _ := s.ClientInit("q2", uuid.New())
	g1, g2 := uuid.New(), uuid.New()
	_, _ = s.Write(h1, g1, []byte("a"))
	_, _ = s.Write(h2, g2, []byte("b"))

	require.NoError(t, s.Clean("q1", ""))

	ok, _ := s.Contains("q1", g1)
	assert.False(t, ok)
	ok, _ = s.Contains("q2", g2)
	assert.True(t, ok)
}

func TestMemoryStoreSyncIsImmediate(t *testing.T) {
	s := NewMemoryStore()
	called := false
	require.NoError(t, s.Sync("q1", nil, func(err error) {
		called = true
		assert.NoError(t, err)
	}))
	assert.True(t, called)
}
