// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(body string) Message {
	return Message{GUID: uuid.New(), Body: []byte(body)}
}

// Scenario 1: non-durable queue, infinite target, publish a/b/c, fetch
// without ack three times.
func TestFetchFIFONonDurable(t *testing.T) {
	ctx := context.Background()
	q, persistent, transient, _ := newTestQueue(Config{QueueName: "q1", StrictInvariants: true})

	require.Equal(t, int64(0), q.Len())
	for _, b := range []string{"a", "b", "c"} {
		_, err := q.Publish(ctx, msg(b))
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), q.Len())

	wantLens := []int64{2, 1, 0}
	for i, want := range []string{"a", "b", "c"} {
		m, delivered, tag, err := q.Fetch(false)
		require.NoError(t, err)
		assert.Equal(t, want, string(m.Body))
		assert.False(t, delivered)
		assert.True(t, tag.IsNone())
		assert.Equal(t, wantLens[i], q.Len())
	}

	_, _, _, err := q.Fetch(false)
	assert.ErrorIs(t, err, ErrEmpty)

	assert.Equal(t, 0, persistent.len())
	assert.Equal(t, 0, transient.len())
}

// Scenario 2 (scaled down from 10,000 for test runtime): publish many
// transient messages at an infinite target, lower the target to zero,
// and drive idle_timeout until ram_msg_count reaches zero.
func TestTargetZeroCollapsesToDelta(t *testing.T) {
	ctx := context.Background()
	const n = 600
	q, _, _, _ := newTestQueue(Config{QueueName: "q2", StrictInvariants: true})

	bodies := make([]string, n)
	for i := 0; i < n; i++ {
		b := fmt.Sprintf("msg-%04d", i)
		bodies[i] = b
		_, err := q.Publish(ctx, msg(b))
		require.NoError(t, err)
	}
	require.Equal(t, int64(n), q.Len())

	require.NoError(t, q.SetRamDurationTarget(ctx, 0))

	passes := 0
	maxPasses := n/IOBatch + 10
	for q.pipeline.RAMMsgCount() > 0 && passes < maxPasses {
		require.NoError(t, q.IdleTimeout(ctx))
		passes++
	}
	assert.Less(t, passes, maxPasses, "ram_msg_count did not reach zero within a bounded number of passes")
	assert.Equal(t, int64(0), q.pipeline.RAMMsgCount())
	assert.False(t, q.pipeline.Delta.Empty())
	assert.Equal(t, int64(n), q.Len())

	for i := 0; i < 3; i++ {
		m, _, _, err := q.Fetch(false)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(m.Body))
	}
	drained := 3
	for {
		_, _, _, err := q.Fetch(false)
		if err != nil {
			break
		}
		drained++
	}
	assert.Equal(t, n, drained)
}

// Scenario 3: a durable transaction with persistent publishes only
// commits once the persistent store has synced, and the post-commit
// hook fires from that later drain, not from tx_commit itself.
func TestTxCommitDurableWaitsForSync(t *testing.T) {
	ctx := context.Background()
	q, persistent, _, _ := newTestQueue(Config{QueueName: "q3", Durable: true, StrictInvariants: true})

	m1 := Message{GUID: uuid.New(), Body: []byte("m1"), IsPersistent: true}
	m2 := Message{GUID: uuid.New(), Body: []byte("m2"), IsPersistent: true}
	require.NoError(t, q.TxPublish("t1", m1))
	require.NoError(t, q.TxPublish("t2", m2))

	// Both bodies were written eagerly even though nothing has committed.
	assert.Equal(t, 2, persistent.len())

	ok := false
	require.NoError(t, q.TxCommit("t1", func() { ok = true }))
	assert.False(t, ok, "post-commit must not fire before the drain applies the sync request")
	require.NoError(t, q.DrainOnSync(ctx))
	assert.True(t, ok)
	assert.Equal(t, int64(1), q.Len())

	ok2 := false
	require.NoError(t, q.TxCommit("t2", func() { ok2 = true }))
	require.NoError(t, q.DrainOnSync(ctx))
	assert.True(t, ok2)
	assert.Equal(t, int64(2), q.Len())
}

// Scenario 4: requeue re-publishes with is_delivered = true.
func TestRequeueMarksDelivered(t *testing.T) {
	ctx := context.Background()
	q, _, _, _ := newTestQueue(Config{QueueName: "q4", Durable: true, StrictInvariants: true})

	m1 := Message{GUID: uuid.New(), Body: []byte("m1"), IsPersistent: true}
	_, err := q.Publish(ctx, m1)
	require.NoError(t, err)

	fetched, delivered, tag, err := q.Fetch(true)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.False(t, tag.IsNone())
	assert.Equal(t, "m1", string(fetched.Body))

	require.NoError(t, q.Requeue(ctx, []AckTag{tag}))

	again, delivered2, _, err := q.Fetch(true)
	require.NoError(t, err)
	assert.True(t, delivered2)
	assert.Equal(t, "m1", string(again.Body))
}

// Scenario 5: purge only drains the pipeline; delivered-but-unacked
// entries stay in the pending-ack map until delete_and_terminate.
func TestPurgeLeavesPendingAcksForDeleteAndTerminate(t *testing.T) {
	ctx := context.Background()
	q, persistent, transient, index := newTestQueue(Config{QueueName: "q5", Durable: true, StrictInvariants: true})

	for i := 0; i < 100; i++ {
		_, err := q.Publish(ctx, Message{GUID: uuid.New(), Body: []byte(fmt.Sprintf("m%03d", i)), IsPersistent: i%2 == 0})
		require.NoError(t, err)
	}
	for i := 0; i < 50; i++ {
		_, _, _, err := q.Fetch(true)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, q.pending.len())

	purged, err := q.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(50), purged)
	assert.Equal(t, int64(0), q.Len())
	assert.Equal(t, 50, q.pending.len())

	require.NoError(t, q.DeleteAndTerminate())
	assert.Equal(t, 0, q.pending.len())
	assert.Equal(t, 0, index.len())
	_ = persistent
	_ = transient
}

// Scenario 6: init negotiates fresh refs when checkpoint terms are
// missing and primes Q3 with one segment's worth of Delta.
func TestInitQueueMintsRefsWhenTermsMissing(t *testing.T) {
	persistent := newFakeStore(true)
	transient := newFakeStore(true)
	index := newFakeIndex(16)
	for seq := SeqID(1000); seq < 2000; seq++ {
		require.NoError(t, index.Publish(uuid.New(), seq, true))
	}

	q, err := InitQueue(Config{QueueName: "q6", Durable: true, StrictInvariants: true}, nil, index, persistent, transient, NewMetrics(nil), NewIOPacer(0, IOBatch))
	require.NoError(t, err)

	assert.Equal(t, SeqID(2000), q.engine.transientThreshold)
	assert.Equal(t, SeqID(1000+8), q.pipeline.Delta.Start)
	assert.Equal(t, SeqID(2000), q.pipeline.Delta.End)
	assert.Equal(t, int64(1000-8), q.pipeline.Delta.Count)
	assert.Equal(t, 8, q.pipeline.Q3.Len())
	assert.NotEqual(t, uuid.Nil, q.engine.persistentHandle.Ref)
	assert.NotEqual(t, uuid.Nil, q.engine.transientHandle.Ref)
}

// Property: structural invariants hold after every public operation in a
// representative mixed workload.
func TestStructuralInvariantsHoldThroughoutMixedWorkload(t *testing.T) {
	ctx := context.Background()
	q, _, _, _ := newTestQueue(Config{QueueName: "qp", Durable: true, StrictInvariants: true})

	var tags []AckTag
	for i := 0; i < 200; i++ {
		persistent := i%3 == 0
		_, err := q.Publish(ctx, Message{GUID: uuid.New(), Body: []byte{byte(i)}, IsPersistent: persistent})
		require.NoError(t, err)
		require.NoError(t, checkInvariants(q.pipeline))

		if i%5 == 0 {
			require.NoError(t, q.SetRamDurationTarget(ctx, float64(i%7)))
			require.NoError(t, checkInvariants(q.pipeline))
		}

		if i%4 == 0 && q.Len() > 0 {
			_, _, tag, err := q.Fetch(true)
			require.NoError(t, err)
			require.NoError(t, checkInvariants(q.pipeline))
			if !tag.IsNone() {
				tags = append(tags, tag)
			}
		}
	}

	for _, tag := range tags {
		require.NoError(t, q.Ack([]AckTag{tag}))
		require.NoError(t, checkInvariants(q.pipeline))
	}
}

// Property: raising duration_target never forces a disk write.
func TestRaisingTargetNeverWrites(t *testing.T) {
	ctx := context.Background()
	q, persistent, transient, _ := newTestQueue(Config{QueueName: "qr", StrictInvariants: true})

	for i := 0; i < 50; i++ {
		_, err := q.Publish(ctx, msg(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, q.SetRamDurationTarget(ctx, math.Inf(1)))
	assert.Equal(t, 0, persistent.len())
	assert.Equal(t, 0, transient.len())
}

// Property: a clean shutdown followed by a fresh InitQueue against the
// same stores and index reloads exactly the messages that were resident
// at terminate time, including bodies that had already moved to delta.
func TestCleanShutdownReloadsResidentMessages(t *testing.T) {
	ctx := context.Background()
	persistent := newFakeStore(true)
	transient := newFakeStore(true)
	index := newFakeIndex(16)

	q, err := InitQueue(Config{QueueName: "qc", Durable: true, StrictInvariants: true}, nil, index, persistent, transient, NewMetrics(nil), NewIOPacer(0, IOBatch))
	require.NoError(t, err)

	const n = 40
	bodies := make([]string, n)
	for i := 0; i < n; i++ {
		b := fmt.Sprintf("shutdown-%02d", i)
		bodies[i] = b
		_, err := q.Publish(ctx, Message{GUID: uuid.New(), Body: []byte(b), IsPersistent: true})
		require.NoError(t, err)
	}
	require.NoError(t, q.SetRamDurationTarget(ctx, 0))
	for q.pipeline.RAMMsgCount() > 0 {
		require.NoError(t, q.IdleTimeout(ctx))
	}
	require.False(t, q.pipeline.Delta.Empty())

	terms, err := q.Terminate(ctx)
	require.NoError(t, err)
	assert.True(t, terms.HasPersistentRef)
	assert.True(t, terms.HasTransientRef)
	assert.Equal(t, int64(n), terms.PersistentCount)

	q2, err := InitQueue(Config{QueueName: "qc", Durable: true, StrictInvariants: true}, nil, index, persistent, transient, NewMetrics(nil), NewIOPacer(0, IOBatch))
	require.NoError(t, err)
	assert.Equal(t, int64(n), q2.Len())
	assert.Equal(t, terms.PersistentRef, q2.engine.persistentHandle.Ref)
	assert.Equal(t, terms.TransientRef, q2.engine.transientHandle.Ref)

	for i := 0; i < n; i++ {
		m, _, _, err := q2.Fetch(false)
		require.NoError(t, err)
		assert.Equal(t, bodies[i], string(m.Body))
	}
	_, _, _, err = q2.Fetch(false)
	assert.ErrorIs(t, err, ErrEmpty)
}

// Property: batch idempotence -- a delta->beta pass of zero available
// elements is a no-op, and two consecutive single-segment delta->beta
// passes move the same total as one pass sized to fit both segments.
func TestDeltaToBetaBatchIdempotence(t *testing.T) {
	q, _, _, index := newTestQueue(Config{QueueName: "qi", StrictInvariants: true})

	moved, err := q.engine.DeltaToBeta()
	require.NoError(t, err)
	assert.Equal(t, 0, moved, "delta->beta on an empty delta must be a no-op")
	require.NoError(t, checkInvariants(q.pipeline))

	for seq := SeqID(0); seq < 32; seq++ {
		require.NoError(t, index.Publish(uuid.New(), seq, true))
	}
	q.pipeline.Delta = DeltaRange{Start: 0, End: 32, Count: 32}

	m1, err := q.engine.DeltaToBeta()
	require.NoError(t, err)
	m2, err := q.engine.DeltaToBeta()
	require.NoError(t, err)
	assert.Equal(t, 16, m1)
	assert.Equal(t, 16, m2)
	assert.True(t, q.pipeline.Delta.Empty())
	assert.Equal(t, 32, q.pipeline.Q3.Len())
}

// Property: round-trip through disk is byte-identical.
func TestRoundTripThroughDiskPreservesBody(t *testing.T) {
	ctx := context.Background()
	q, _, _, _ := newTestQueue(Config{QueueName: "qd", Durable: true, StrictInvariants: true})

	body := []byte("the exact bytes that must survive a trip to delta and back")
	seq, err := q.Publish(ctx, Message{GUID: uuid.New(), Body: body, IsPersistent: true})
	require.NoError(t, err)
	_ = seq

	require.NoError(t, q.SetRamDurationTarget(ctx, 0))
	for q.pipeline.RAMMsgCount() > 0 {
		require.NoError(t, q.IdleTimeout(ctx))
	}
	// With a single message Delta cannot stay non-empty at an operation
	// boundary (invariant 3 needs Q3 non-empty beside it): the collapse
	// folds the message into Delta and the re-prime reads it back from
	// the index into Q3 as a gamma record with its body on disk only.
	require.Equal(t, int64(1), q.pipeline.Q3.indexOnDiskCount)

	got, _, _, err := q.Fetch(false)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}
