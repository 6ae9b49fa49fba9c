// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config configures a Queue instance.
type Config struct {
	QueueName string
	// Durable gates whether IsPersistent publishes actually get their
	// persistent flag honoured; a non-durable queue treats every message
	// as transient regardless of the caller's flag.
	Durable bool
	// StrictInvariants panics on a structural invariant violation
	// instead of merely returning an error. False unless set; the
	// package's tests set it true.
	StrictInvariants bool
	// PhaseChangeIOPerSecond paces alpha->beta/beta->gamma disk writes.
	// Zero disables pacing.
	PhaseChangeIOPerSecond float64
	IOBatchBurst           int
	OnSyncBuffer           int
}

func (c Config) withDefaults() Config {
	if c.IOBatchBurst <= 0 {
		c.IOBatchBurst = IOBatch
	}
	if c.OnSyncBuffer <= 0 {
		c.OnSyncBuffer = 128
	}
	return c
}

// syncRequest is the message posted back to the queue's mailbox by a
// persistent store's sync callback, modelling the tx_commit suspension
// point described in 4.F/§5.
type syncRequest struct {
	messages   []Message
	acks       []AckTag
	postCommit func()
}

// Queue is the public queue protocol (4.H) running as a single-threaded
// cooperative actor: every exported method takes mu, so external
// collaborators are the only source of concurrency (their calls are
// synchronous from this actor's point of view, except tx_commit's sync
// callback, which arrives asynchronously on onSyncCh).
type Queue struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	pipeline *Pipeline
	engine   *PhaseChangeEngine
	rate     *RateEstimator
	pending  *pendingAckMap
	txns     map[string]*txnState
	nextSeq  SeqID

	index      QueueIndex
	persistent MessageStore
	transient  MessageStore

	onSyncCh   chan syncRequest
	terminated bool
}

func (q *Queue) storeForFlag(isPersistent bool) (MessageStore, ClientHandle) {
	if isPersistent {
		return q.persistent, q.engine.persistentHandle
	}
	return q.transient, q.engine.transientHandle
}

func (q *Queue) setHandleFlag(isPersistent bool, h ClientHandle) {
	if isPersistent {
		q.engine.persistentHandle = h
	} else {
		q.engine.transientHandle = h
	}
}

func (q *Queue) checkInvariantsLocked() error {
	err := checkInvariants(q.pipeline)
	if err == nil {
		return nil
	}
	if q.log != nil {
		q.log.Error("invariant check failed", "queue", q.cfg.QueueName, "error", err, "strict", q.cfg.StrictInvariants)
	}
	if q.cfg.StrictInvariants {
		panic(err)
	}
	return err
}

// Publish assigns the next seq id, inserts at Q1 tail if Q3 is non-empty
// else at Q4 tail, then runs one phase-change pass. Never blocks on disk
// beyond the configured IO pacer.
func (q *Queue) Publish(ctx context.Context, msg Message) (SeqID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return 0, ErrTerminated
	}
	seq := q.nextSeq
	q.nextSeq++
	r := &Residency{
		SeqID:        seq,
		GUID:         msg.GUID,
		IsPersistent: msg.IsPersistent && q.cfg.Durable,
		Body:         msg.Body,
	}
	q.pipeline.InsertPublish(r)
	q.rate.RecordPublish()
	if err := q.engine.RunPass(ctx, q.rate.TargetRAMMsgCount()); err != nil {
		return seq, err
	}
	return seq, q.checkInvariantsLocked()
}

// PublishDelivered is valid only on an empty queue; it models optimistic
// direct-to-consumer delivery without ever resting in the pipeline.
func (q *Queue) PublishDelivered(ackRequired bool, msg Message) (AckTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return AckTag{}, ErrTerminated
	}
	if q.pipeline.Len() != 0 {
		return AckTag{}, ErrNotEmpty
	}
	seq := q.nextSeq
	q.nextSeq++
	if !ackRequired {
		return NoAck(), nil
	}
	isPersistent := msg.IsPersistent && q.cfg.Durable
	store, handle := q.storeForFlag(isPersistent)
	newHandle, err := store.Write(handle, msg.GUID, msg.Body)
	if err != nil {
		return AckTag{}, fmt.Errorf("tierqueue: publish_delivered write: %w", err)
	}
	q.setHandleFlag(isPersistent, newHandle)
	q.pending.put(seq, diskAckEntry(isPersistent, msg.GUID))
	return NewAckTag(seq), nil
}

// Fetch pulls from Q4, demand-loading from Q3/Delta when Q4 has emptied.
func (q *Queue) Fetch(ackRequired bool) (Message, bool, AckTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return Message{}, false, AckTag{}, ErrTerminated
	}

	r, err := q.refillAndPullLocked()
	if err != nil {
		return Message{}, false, AckTag{}, err
	}
	if r == nil {
		return Message{}, false, AckTag{}, ErrEmpty
	}

	body := r.Body
	if body == nil {
		store, handle := q.storeForFlag(r.IsPersistent)
		data, newHandle, rerr := store.Read(handle, r.GUID)
		if rerr != nil {
			return Message{}, false, AckTag{}, fmt.Errorf("tierqueue: fetch read body: %w", rerr)
		}
		q.setHandleFlag(r.IsPersistent, newHandle)
		body = data
	}

	wasDelivered := r.IsDelivered
	r.IsDelivered = true
	if r.IndexOnDisk {
		if err := q.index.Deliver([]SeqID{r.SeqID}); err != nil {
			return Message{}, false, AckTag{}, fmt.Errorf("tierqueue: mark delivered: %w", err)
		}
	}

	var tag AckTag
	if ackRequired {
		tag = NewAckTag(r.SeqID)
		if r.MsgOnDisk {
			q.pending.put(r.SeqID, diskAckEntry(r.IsPersistent, r.GUID))
		} else {
			q.pending.put(r.SeqID, fullAckEntry(r))
		}
	} else {
		tag = NoAck()
		if r.MsgOnDisk {
			store, handle := q.storeForFlag(r.IsPersistent)
			if err := store.Remove(handle, []GUID{r.GUID}); err != nil {
				return Message{}, false, AckTag{}, fmt.Errorf("tierqueue: remove delivered body: %w", err)
			}
		}
		if r.IndexOnDisk {
			if err := q.index.Ack([]SeqID{r.SeqID}); err != nil {
				return Message{}, false, AckTag{}, fmt.Errorf("tierqueue: ack delivered index entry: %w", err)
			}
		}
	}
	q.rate.RecordFetch()
	msg := Message{GUID: r.GUID, Body: body, IsPersistent: r.IsPersistent}
	return msg, wasDelivered, tag, q.checkInvariantsLocked()
}

func (q *Queue) refillAndPullLocked() (*Residency, error) {
	for {
		if r, ok := q.pipeline.PullForFetch(); ok {
			return r, nil
		}
		if q.pipeline.Q3.Len() == 0 {
			if q.pipeline.Delta.Empty() {
				return nil, nil
			}
			moved, err := q.engine.DeltaToBeta()
			if err != nil {
				return nil, err
			}
			if moved == 0 && q.pipeline.Q3.Len() == 0 {
				return nil, nil
			}
		}
		r3, ok := q.pipeline.Q3.PopHead()
		if !ok {
			return nil, nil
		}
		q.pipeline.Q4.PushTail(r3)
		// Keep invariants 1 and 3: once Q3 drains, refill it from Delta,
		// or, with Delta empty, move Q1's backlog straight onto Q4.
		for q.pipeline.Q3.Len() == 0 && !q.pipeline.Delta.Empty() {
			if _, err := q.engine.DeltaToBeta(); err != nil {
				return nil, err
			}
		}
		if q.pipeline.Q3.Len() == 0 {
			for _, r1 := range q.pipeline.Q1.drainAll() {
				q.pipeline.Q4.PushTail(r1)
			}
		}
	}
}

// Ack consults the pending-ack map for each tag and releases disk
// resources for disk-backed entries; full-residency entries need no
// disk work.
func (q *Queue) Ack(tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tag := range tags {
		seq, ok := tag.SeqIDValue()
		if !ok {
			continue
		}
		entry, found := q.pending.take(seq)
		if !found {
			return ErrUnknownAckTag
		}
		if entry.onDisk {
			store, handle := q.storeForFlag(entry.isPersistent)
			if err := store.Remove(handle, []GUID{entry.guid}); err != nil {
				return fmt.Errorf("tierqueue: ack remove body: %w", err)
			}
			if err := q.index.Ack([]SeqID{seq}); err != nil {
				return fmt.Errorf("tierqueue: ack index entry: %w", err)
			}
		}
	}
	return q.checkInvariantsLocked()
}

// Requeue re-publishes each previously-delivered message with
// IsDelivered=true, reloading bodies that had been evicted.
func (q *Queue) Requeue(ctx context.Context, tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, tag := range tags {
		seq, ok := tag.SeqIDValue()
		if !ok {
			continue
		}
		entry, found := q.pending.take(seq)
		if !found {
			return ErrUnknownAckTag
		}
		var r *Residency
		if entry.full != nil {
			r = entry.full
		} else {
			store, handle := q.storeForFlag(entry.isPersistent)
			body, newHandle, err := store.Read(handle, entry.guid)
			if err != nil {
				return fmt.Errorf("tierqueue: requeue reload body: %w", err)
			}
			q.setHandleFlag(entry.isPersistent, newHandle)
			// The body is reloaded into RAM under a new seq id; its
			// on-disk copy has no remaining referrer.
			if err := store.Release(newHandle, []GUID{entry.guid}); err != nil {
				return fmt.Errorf("tierqueue: requeue release body: %w", err)
			}
			r = &Residency{GUID: entry.guid, IsPersistent: entry.isPersistent, Body: body}
		}
		r.IsDelivered = true
		r.SeqID = q.nextSeq
		q.nextSeq++
		q.pipeline.InsertPublish(r)
	}
	if err := q.engine.RunPass(ctx, q.rate.TargetRAMMsgCount()); err != nil {
		return err
	}
	return q.checkInvariantsLocked()
}

// Purge empties the queue, batching deliver-and-ack calls to the queue
// index and remove calls to the relevant message stores.
func (q *Queue) Purge() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.purgeLocked()
}

func (q *Queue) purgeLocked() (int64, error) {
	count := q.pipeline.Len()

	var ackSeqs []SeqID
	var persistentGUIDs, transientGUIDs []GUID
	collect := func(r *Residency) {
		if r.IndexOnDisk {
			ackSeqs = append(ackSeqs, r.SeqID)
		}
		if r.MsgOnDisk {
			if r.IsPersistent {
				persistentGUIDs = append(persistentGUIDs, r.GUID)
			} else {
				transientGUIDs = append(transientGUIDs, r.GUID)
			}
		}
	}
	for _, r := range q.pipeline.Q1.drainAll() {
		collect(r)
	}
	for _, r := range q.pipeline.Q2.drainAll() {
		collect(r)
	}
	q.pipeline.Q2.indexOnDiskCount = 0
	for _, r := range q.pipeline.Q3.drainAll() {
		collect(r)
	}
	q.pipeline.Q3.indexOnDiskCount = 0
	for _, r := range q.pipeline.Q4.drainAll() {
		collect(r)
	}

	if !q.pipeline.Delta.Empty() {
		entries, err := q.index.Read(q.pipeline.Delta.Start, q.pipeline.Delta.End)
		if err != nil {
			return 0, fmt.Errorf("tierqueue: purge read delta: %w", err)
		}
		for _, ent := range entries {
			ackSeqs = append(ackSeqs, ent.SeqID)
			if ent.Persistent {
				persistentGUIDs = append(persistentGUIDs, ent.GUID)
			} else {
				transientGUIDs = append(transientGUIDs, ent.GUID)
			}
		}
		q.pipeline.Delta = blankDelta()
	}

	if len(ackSeqs) > 0 {
		if err := q.index.Deliver(ackSeqs); err != nil {
			return 0, fmt.Errorf("tierqueue: purge deliver index: %w", err)
		}
		if err := q.index.Ack(ackSeqs); err != nil {
			return 0, fmt.Errorf("tierqueue: purge ack index: %w", err)
		}
	}
	if len(persistentGUIDs) > 0 {
		if err := q.persistent.Remove(q.engine.persistentHandle, persistentGUIDs); err != nil {
			return 0, fmt.Errorf("tierqueue: purge remove persistent bodies: %w", err)
		}
	}
	if len(transientGUIDs) > 0 {
		if err := q.transient.Remove(q.engine.transientHandle, transientGUIDs); err != nil {
			return 0, fmt.Errorf("tierqueue: purge remove transient bodies: %w", err)
		}
	}
	return count, q.checkInvariantsLocked()
}

// DeleteAndTerminate purges, drops every pending-ack entry without
// preserving persistent copies, and deletes the queue-index file.
func (q *Queue) DeleteAndTerminate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.purgeLocked(); err != nil {
		return err
	}
	for _, entry := range q.pending.drain() {
		if !entry.onDisk {
			continue
		}
		store, handle := q.storeForFlag(entry.isPersistent)
		if err := store.Remove(handle, []GUID{entry.guid}); err != nil {
			return fmt.Errorf("tierqueue: delete_and_terminate remove pending body: %w", err)
		}
	}
	if err := q.index.DeleteAndTerminate(); err != nil {
		return fmt.Errorf("tierqueue: delete_and_terminate queue index: %w", err)
	}
	q.terminated = true
	return nil
}

// Len returns the total resident message count.
func (q *Queue) Len() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pipeline.Len()
}

// RamDuration samples the rate estimator, returning the advisory RAM
// duration estimate, and re-derives target_ram_msg_count from the
// currently stored duration target using the freshly measured rates --
// lowering it if the rates moved enough to warrant it.
func (q *Queue) RamDuration(ctx context.Context) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d := q.rate.RamDuration(time.Now(), q.pipeline.RAMMsgCount())
	lowered, targetRAM := q.rate.SetRamDurationTarget(q.rate.targetDuration)
	if lowered {
		if err := q.engine.RunPass(ctx, targetRAM); err != nil {
			return d, err
		}
	}
	return d, q.checkInvariantsLocked()
}

// SetRamDurationTarget stores a new duration target; if it is strictly
// lower than the prior target, the phase-change engine runs immediately.
// Raising the target never forces a disk write.
func (q *Queue) SetRamDurationTarget(ctx context.Context, target float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	lowered, targetRAM := q.rate.SetRamDurationTarget(target)
	if !lowered {
		return nil
	}
	if err := q.engine.RunPass(ctx, targetRAM); err != nil {
		return err
	}
	return q.checkInvariantsLocked()
}

// IdleTimeout drains any outstanding on-sync work and runs one
// phase-change pass.
func (q *Queue) IdleTimeout(ctx context.Context) error {
	if err := q.DrainOnSync(ctx); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.engine.RunPass(ctx, q.rate.TargetRAMMsgCount()); err != nil {
		return err
	}
	return q.checkInvariantsLocked()
}

// PreHibernate flushes the queue-index write buffer so the actor can
// sleep without holding memory.
func (q *Queue) PreHibernate() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index.Flush()
}

// DrainOnSync applies every syncRequest currently buffered on the
// mailbox, non-blockingly.
func (q *Queue) DrainOnSync(ctx context.Context) error {
	for {
		var req syncRequest
		select {
		case req = <-q.onSyncCh:
		default:
			return nil
		}
		if err := q.applySyncRequestLocked(ctx, req); err != nil {
			return err
		}
	}
}

func (q *Queue) applySyncRequestLocked(ctx context.Context, req syncRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.log != nil {
		q.log.Debug("tx commit wakeup", "queue", q.cfg.QueueName, "messages", len(req.messages), "acks", len(req.acks))
	}
	var seqs []SeqID
	for _, msg := range req.messages {
		seq := q.nextSeq
		q.nextSeq++
		r := &Residency{SeqID: seq, GUID: msg.GUID, IsPersistent: msg.IsPersistent && q.cfg.Durable, Body: msg.Body}
		q.pipeline.InsertPublish(r)
		q.rate.RecordPublish()
		seqs = append(seqs, seq)
	}
	for _, tag := range req.acks {
		seq, ok := tag.SeqIDValue()
		if !ok {
			continue
		}
		entry, found := q.pending.take(seq)
		if !found {
			continue
		}
		if entry.onDisk {
			store, handle := q.storeForFlag(entry.isPersistent)
			if err := store.Remove(handle, []GUID{entry.guid}); err != nil {
				return err
			}
			if err := q.index.Ack([]SeqID{seq}); err != nil {
				return err
			}
		}
	}
	if len(seqs) > 0 {
		if err := q.index.Sync(seqs); err != nil {
			return err
		}
	}
	if err := q.engine.RunPass(ctx, q.rate.TargetRAMMsgCount()); err != nil {
		return err
	}
	if req.postCommit != nil {
		req.postCommit()
	}
	return q.checkInvariantsLocked()
}

// Terminate is the clean-shutdown path: drain on-sync, flush pending-ack
// entries whose body only lives in RAM back to their message store,
// write checkpoint terms through the queue index, and close client
// handles.
func (q *Queue) Terminate(ctx context.Context) (CheckpointTerms, error) {
	if err := q.DrainOnSync(ctx); err != nil {
		return CheckpointTerms{}, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.pending.drain() {
		if entry.full == nil {
			continue
		}
		store, handle := q.storeForFlag(entry.full.IsPersistent)
		newHandle, err := store.Write(handle, entry.full.GUID, entry.full.Body)
		if err != nil {
			return CheckpointTerms{}, fmt.Errorf("tierqueue: terminate flush pending body: %w", err)
		}
		q.setHandleFlag(entry.full.IsPersistent, newHandle)
	}
	terms := CheckpointTerms{
		PersistentRef:    q.engine.persistentHandle.Ref,
		TransientRef:     q.engine.transientHandle.Ref,
		PersistentCount:  q.pipeline.PersistentCount(),
		HasPersistentRef: true,
		HasTransientRef:  true,
	}
	if err := q.index.Terminate(terms); err != nil {
		return CheckpointTerms{}, fmt.Errorf("tierqueue: terminate queue index: %w", err)
	}
	if err := q.persistent.ClientTerminate(q.engine.persistentHandle); err != nil {
		return CheckpointTerms{}, fmt.Errorf("tierqueue: terminate persistent client: %w", err)
	}
	if err := q.transient.ClientTerminate(q.engine.transientHandle); err != nil {
		return CheckpointTerms{}, fmt.Errorf("tierqueue: terminate transient client: %w", err)
	}
	q.terminated = true
	return terms, nil
}

// newQueue assembles a Queue from already-initialised components. Callers
// (startup's Init) are responsible for negotiating seq-id bounds,
// checkpoint terms, and client handles first.
func newQueue(cfg Config, log *slog.Logger, pipeline *Pipeline, engine *PhaseChangeEngine, rate *RateEstimator, index QueueIndex, persistent, transient MessageStore, nextSeq SeqID) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:        cfg,
		log:        log,
		pipeline:   pipeline,
		engine:     engine,
		rate:       rate,
		pending:    newPendingAckMap(),
		txns:       make(map[string]*txnState),
		nextSeq:    nextSeq,
		index:      index,
		persistent: persistent,
		transient:  transient,
		onSyncCh:   make(chan syncRequest, cfg.OnSyncBuffer),
	}
}

func flattenAcks(batches [][]AckTag) []AckTag {
	var out []AckTag
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// TxPublish buffers a publish inside transaction txnID, creating the
// transaction's buffer on first use. A durable, persistent publish is
// written through to the persistent store eagerly, so tx_commit has a
// concrete GUID set to fsync rather than bodies that only ever existed
// in RAM.
func (q *Queue) TxPublish(txnID string, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.txns[txnID]
	if !ok {
		t = newTxnState(txnID)
		q.txns[txnID] = t
	}
	t.pushMessage(msg)
	if msg.IsPersistent && q.cfg.Durable {
		store, handle := q.storeForFlag(true)
		newHandle, err := store.Write(handle, msg.GUID, msg.Body)
		if err != nil {
			return fmt.Errorf("tierqueue: tx_publish eager write: %w", err)
		}
		q.setHandleFlag(true, newHandle)
		t.eagerPersistentRef = append(t.eagerPersistentRef, msg.GUID)
	}
	return nil
}

// TxAck buffers an ack-tag batch inside transaction txnID without
// touching the pending-ack map; the acks only take effect on commit.
func (q *Queue) TxAck(txnID string, tags []AckTag) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.txns[txnID]
	if !ok {
		t = newTxnState(txnID)
		q.txns[txnID] = t
	}
	t.pendingAcks = append(t.pendingAcks, tags)
	return nil
}

// TxCommit applies a transaction's buffered publishes and acks. A
// transaction with no durable persistent publish applies immediately;
// one that made a durable persistent publish instead syncs the
// persistent store first and defers the apply to the syncRequest
// delivered back through onSyncCh once fsync completes.
func (q *Queue) TxCommit(txnID string, postCommit func()) error {
	q.mu.Lock()
	t, ok := q.txns[txnID]
	if !ok {
		q.mu.Unlock()
		return ErrTxnNotFound
	}
	delete(q.txns, txnID)

	if !q.cfg.Durable || !t.hasPersistentPublish() {
		defer q.mu.Unlock()
		for _, msg := range t.messagesInOrder() {
			seq := q.nextSeq
			q.nextSeq++
			r := &Residency{SeqID: seq, GUID: msg.GUID, IsPersistent: msg.IsPersistent && q.cfg.Durable, Body: msg.Body}
			q.pipeline.InsertPublish(r)
			q.rate.RecordPublish()
		}
		for _, tag := range flattenAcks(t.pendingAcks) {
			seq, ok := tag.SeqIDValue()
			if !ok {
				continue
			}
			entry, found := q.pending.take(seq)
			if !found {
				return ErrUnknownAckTag
			}
			if entry.onDisk {
				store, handle := q.storeForFlag(entry.isPersistent)
				if err := store.Remove(handle, []GUID{entry.guid}); err != nil {
					return fmt.Errorf("tierqueue: tx_commit ack remove body: %w", err)
				}
				if err := q.index.Ack([]SeqID{seq}); err != nil {
					return fmt.Errorf("tierqueue: tx_commit ack index entry: %w", err)
				}
			}
		}
		if err := q.engine.RunPass(context.Background(), q.rate.TargetRAMMsgCount()); err != nil {
			return err
		}
		if err := q.checkInvariantsLocked(); err != nil {
			return err
		}
		if postCommit != nil {
			postCommit()
		}
		return nil
	}

	guids := append([]GUID(nil), t.eagerPersistentRef...)
	req := syncRequest{messages: t.messagesInOrder(), acks: flattenAcks(t.pendingAcks), postCommit: postCommit}
	handle := q.engine.persistentHandle
	store := q.persistent
	q.mu.Unlock()
	return store.Sync(handle.StoreName, guids, func(syncErr error) {
		if syncErr != nil {
			if q.log != nil {
				q.log.Error("persistent sync failed", "queue", q.cfg.QueueName, "error", syncErr)
			}
			return
		}
		q.onSyncCh <- req
	})
}

// TxRollback discards a transaction's buffered publishes and acks,
// releasing any eagerly-written persistent bodies, and reports the acks
// that were discarded (they remain outstanding in the pending-ack map
// exactly as before TxAck buffered them).
func (q *Queue) TxRollback(txnID string) ([]AckTag, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.txns[txnID]
	if !ok {
		return nil, ErrTxnNotFound
	}
	delete(q.txns, txnID)
	for _, guid := range t.eagerPersistentRef {
		store, handle := q.storeForFlag(true)
		if err := store.Remove(handle, []GUID{guid}); err != nil {
			return nil, fmt.Errorf("tierqueue: tx_rollback release eager body: %w", err)
		}
	}
	return flattenAcks(t.pendingAcks), nil
}
