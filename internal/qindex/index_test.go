// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package qindex

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

func openFresh(t *testing.T, segmentSize uint64) (*FileQueueIndex, string) {
	t.Helper()
	dir := t.TempDir()
	x, err := NewFileQueueIndex(dir, segmentSize)
	require.NoError(t, err)
	_, _, err = x.Init("q1", true, nil)
	require.NoError(t, err)
	return x, dir
}

func TestPublishReadAckRoundTrip(t *testing.T) {
	x, _ := openFresh(t, 16)

	guids := make([]uuid.UUID, 10)
	for i := range guids {
		guids[i] = uuid.New()
		require.NoError(t, x.Publish(guids[i], tierqueue.SeqID(i), i%2 == 0))
	}

	entries, err := x.Read(0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, tierqueue.SeqID(i), e.SeqID)
		assert.Equal(t, guids[i], e.GUID)
		assert.Equal(t, i%2 == 0, e.Persistent)
		assert.False(t, e.Delivered)
	}

	require.NoError(t, x.Deliver([]tierqueue.SeqID{3}))
	entries, err = x.Read(3, 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Delivered)

	require.NoError(t, x.Ack([]tierqueue.SeqID{3, 4}))
	entries, err = x.Read(0, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 8)

	low, next, err := x.Bounds()
	require.NoError(t, err)
	assert.Equal(t, tierqueue.SeqID(0), low)
	assert.Equal(t, tierqueue.SeqID(10), next)
}

func TestNextSegmentBoundary(t *testing.T) {
	x, _ := openFresh(t, 16)
	assert.Equal(t, tierqueue.SeqID(16), x.NextSegmentBoundary(0))
	assert.Equal(t, tierqueue.SeqID(16), x.NextSegmentBoundary(15))
	assert.Equal(t, tierqueue.SeqID(32), x.NextSegmentBoundary(16))
}

func TestFlushThenReopenSurvivesCompaction(t *testing.T) {
	dir := t.TempDir()
	x, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	_, _, err = x.Init("q1", true, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, x.Publish(uuid.New(), tierqueue.SeqID(i), true))
	}
	require.NoError(t, x.Flush())

	terms := tierqueue.CheckpointTerms{
		PersistentRef:    uuid.New(),
		TransientRef:     uuid.New(),
		PersistentCount:  5,
		HasPersistentRef: true,
		HasTransientRef:  true,
	}
	require.NoError(t, x.Terminate(terms))

	x2, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	count, gotTerms, err := x2.Init("q1", true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.Equal(t, terms.PersistentRef, gotTerms.PersistentRef)
	assert.Equal(t, terms.PersistentCount, gotTerms.PersistentCount)
}

func TestDirtyShutdownDropsUncontainedPersistentEntries(t *testing.T) {
	dir := t.TempDir()
	x, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	_, _, err = x.Init("q1", true, nil)
	require.NoError(t, err)

	survivorGUID := uuid.New()
	lostGUID := uuid.New()
	require.NoError(t, x.Publish(survivorGUID, 0, true))
	require.NoError(t, x.Publish(lostGUID, 1, true))
	require.NoError(t, x.wal.sync())

	x2, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	contains := func(g uuid.UUID) bool { return g == survivorGUID }
	count, _, err := x2.Init("q1", false, contains)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entries, err := x2.Read(0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, survivorGUID, entries[0].GUID)
}

func TestTornTailRecordIsIgnoredOnReplay(t *testing.T) {
	dir := t.TempDir()
	x, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	_, _, err = x.Init("q1", true, nil)
	require.NoError(t, err)

	require.NoError(t, x.Publish(uuid.New(), 0, true))
	require.NoError(t, x.Publish(uuid.New(), 1, true))

	f, err := os.OpenFile(x.walPath(), os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	x2, err := NewFileQueueIndex(dir, 16)
	require.NoError(t, err)
	count, _, err := x2.Init("q1", true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteAndTerminateRemovesAllFiles(t *testing.T) {
	x, dir := openFresh(t, 16)
	require.NoError(t, x.Publish(uuid.New(), 0, true))
	require.NoError(t, x.Flush())
	require.NoError(t, x.DeleteAndTerminate())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
