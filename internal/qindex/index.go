// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package qindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

var _ tierqueue.QueueIndex = (*FileQueueIndex)(nil)

// DefaultSegmentSize is the number of consecutive seq ids treated as one
// segment by NextSegmentBoundary, the unit growDeltaFromQ3/Q2 absorb at a
// time.
const DefaultSegmentSize = 4096

// FileQueueIndex is a tierqueue.QueueIndex backed by one directory per
// queue: an append-only write-ahead log for crash safety, compacted on
// Flush/Terminate into a single S2-compressed snapshot, plus a small
// terms file for the checkpoint CheckpointTerms round-trips through
// Terminate/Init.
type FileQueueIndex struct {
	dir         string
	segmentSize uint64

	mu     sync.Mutex
	wal    *wal
	live   map[uint64]record
	closed bool
}

func (x *FileQueueIndex) snapshotPath() string { return filepath.Join(x.dir, "snapshot.s2") }
func (x *FileQueueIndex) termsPath() string     { return filepath.Join(x.dir, "terms.bin") }
func (x *FileQueueIndex) walPath() string       { return filepath.Join(x.dir, "wal.log") }

// NewFileQueueIndex opens (creating if necessary) the index directory
// dir. Callers must still call Init before using the index.
func NewFileQueueIndex(dir string, segmentSize uint64) (*FileQueueIndex, error) {
	if segmentSize == 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("qindex: create index dir: %w", err)
	}
	x := &FileQueueIndex{dir: dir, segmentSize: segmentSize, live: make(map[uint64]record)}
	w, err := openWAL(x.walPath())
	if err != nil {
		return nil, err
	}
	x.wal = w
	return x, nil
}

// Init replays the snapshot and WAL into memory, drops persistent
// entries whose backing body did not survive a dirty shutdown (per
// contains), and immediately compacts so the on-disk state reflects
// exactly what recovery decided to keep.
func (x *FileQueueIndex) Init(_ string, recovered bool, contains func(uuid.UUID) bool) (int64, tierqueue.CheckpointTerms, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap, err := readSnapshot(x.snapshotPath())
	if err != nil {
		return 0, tierqueue.CheckpointTerms{}, err
	}
	walRecs, err := x.wal.replay()
	if err != nil {
		return 0, tierqueue.CheckpointTerms{}, err
	}

	live := make(map[uint64]record, len(snap)+len(walRecs))
	for _, r := range snap {
		live[r.seq] = r
	}
	for _, r := range walRecs {
		if r.acked {
			delete(live, r.seq)
			continue
		}
		live[r.seq] = r
	}

	if !recovered && contains != nil {
		for seq, r := range live {
			if r.persistent && !contains(r.guid) {
				delete(live, seq)
			}
		}
	}

	x.live = live
	if err := x.compactLocked(); err != nil {
		return 0, tierqueue.CheckpointTerms{}, err
	}

	terms, _, err := readTerms(x.termsPath())
	if err != nil {
		return 0, tierqueue.CheckpointTerms{}, err
	}
	return int64(len(x.live)), terms, nil
}

func (x *FileQueueIndex) Bounds() (tierqueue.SeqID, tierqueue.SeqID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.live) == 0 {
		return 0, 0, nil
	}
	var low, high uint64
	first := true
	for seq := range x.live {
		if first || seq < low {
			low = seq
		}
		if first || seq+1 > high {
			high = seq + 1
		}
		first = false
	}
	return tierqueue.SeqID(low), tierqueue.SeqID(high), nil
}

func (x *FileQueueIndex) Publish(guid uuid.UUID, seq tierqueue.SeqID, persistent bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	r := record{seq: uint64(seq), guid: guid, persistent: persistent}
	if err := x.wal.append(r); err != nil {
		return err
	}
	x.live[r.seq] = r
	return nil
}

func (x *FileQueueIndex) Deliver(seqs []tierqueue.SeqID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	for _, s := range seqs {
		r, ok := x.live[uint64(s)]
		if !ok {
			continue
		}
		r.delivered = true
		if err := x.wal.append(r); err != nil {
			return err
		}
		x.live[r.seq] = r
	}
	return nil
}

func (x *FileQueueIndex) Ack(seqs []tierqueue.SeqID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	for _, s := range seqs {
		tomb := record{seq: uint64(s), acked: true}
		if err := x.wal.append(tomb); err != nil {
			return err
		}
		delete(x.live, uint64(s))
	}
	return nil
}

// Sync fsyncs the write-ahead log so every record appended before this
// call is durable. The seq ids are accepted for interface parity; every
// append is already written to the WAL in order, so there is nothing
// selective to flush.
func (x *FileQueueIndex) Sync([]tierqueue.SeqID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.wal.sync()
}

func (x *FileQueueIndex) Read(from, to tierqueue.SeqID) ([]tierqueue.IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []tierqueue.IndexEntry
	for seq, r := range x.live {
		if seq >= uint64(from) && seq < uint64(to) {
			out = append(out, tierqueue.IndexEntry{
				SeqID:      tierqueue.SeqID(r.seq),
				GUID:       r.guid,
				Persistent: r.persistent,
				Delivered:  r.delivered,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

func (x *FileQueueIndex) NextSegmentBoundary(seq tierqueue.SeqID) tierqueue.SeqID {
	s := uint64(seq)
	return tierqueue.SeqID((s/x.segmentSize + 1) * x.segmentSize)
}

func (x *FileQueueIndex) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.compactLocked()
}

// compactLocked writes every live record into a fresh snapshot and
// truncates the WAL, so on-disk state is exactly the in-memory state
// with no replay work left for the next Init.
func (x *FileQueueIndex) compactLocked() error {
	recs := make([]record, 0, len(x.live))
	for _, r := range x.live {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	if err := writeSnapshot(x.snapshotPath(), recs); err != nil {
		return err
	}
	return x.wal.truncate()
}

func (x *FileQueueIndex) Terminate(terms tierqueue.CheckpointTerms) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.compactLocked(); err != nil {
		return err
	}
	if err := writeTerms(x.termsPath(), terms); err != nil {
		return err
	}
	x.closed = true
	return x.wal.close()
}

func (x *FileQueueIndex) DeleteAndTerminate() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.closed {
		_ = x.wal.close()
		x.closed = true
	}
	x.live = make(map[uint64]record)
	for _, p := range []string{x.walPath(), x.snapshotPath(), x.termsPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("qindex: delete_and_terminate remove %s: %w", p, err)
		}
	}
	return nil
}
