// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

// ClientHandle is the opaque per-queue, per-store handle used for
// crash-recovery bookkeeping. It is round-tripped through every
// MessageStore call exactly as a client of logstorage round-trips a
// *consumer.ConsumerManager handle.
type ClientHandle struct {
	StoreName string
	Ref       GUID
}

// CheckpointTerms are the durable terms a queue round-trips through the
// queue index's Init/Terminate calls. They are opaque to the broker but
// produced and consumed entirely by this package.
type CheckpointTerms struct {
	PersistentRef    GUID
	TransientRef     GUID
	PersistentCount  int64
	HasPersistentRef bool
	HasTransientRef  bool
}

// MessageStore is the external, shared, content-addressed blob store
// keyed by message GUID. One instance exists per persistence class
// (persistent, transient); the queue holds a distinct ClientHandle for
// each.
type MessageStore interface {
	ClientInit(storeName string, ref GUID) (ClientHandle, error)
	ClientTerminate(h ClientHandle) error
	Write(h ClientHandle, guid GUID, body []byte) (ClientHandle, error)
	Read(h ClientHandle, guid GUID) ([]byte, ClientHandle, error)
	Remove(h ClientHandle, guids []GUID) error
	Release(h ClientHandle, guids []GUID) error
	Contains(storeName string, guid GUID) (bool, error)
	Sync(storeName string, guids []GUID, cb func(error)) error
	DeleteClient(storeName string, ref GUID) error
	SuccessfullyRecoveredState(storeName string) bool
	Clean(storeName, dir string) error
}

// IndexEntry is a single record read back from the queue index.
type IndexEntry struct {
	SeqID      SeqID
	GUID       GUID
	Persistent bool
	Delivered  bool
	Acked      bool
}

// QueueIndex is the per-queue append-only log of
// (seq_id, guid, persistent?, delivered?, acked?) tuples.
type QueueIndex interface {
	Init(queueName string, recovered bool, contains func(GUID) bool) (deltaCount int64, terms CheckpointTerms, err error)
	Bounds() (low, next SeqID, err error)
	Publish(guid GUID, seq SeqID, persistent bool) error
	Deliver(seqs []SeqID) error
	Ack(seqs []SeqID) error
	Sync(seqs []SeqID) error
	Read(from, to SeqID) ([]IndexEntry, error)
	NextSegmentBoundary(seq SeqID) SeqID
	Flush() error
	Terminate(terms CheckpointTerms) error
	DeleteAndTerminate() error
}
