// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore is an in-memory stand-in for a MessageStore, enough to drive
// the queue protocol end to end without a real blob store.
type fakeStore struct {
	mu        sync.Mutex
	data      map[GUID][]byte
	recovered bool
}

func newFakeStore(recovered bool) *fakeStore {
	return &fakeStore{data: make(map[GUID][]byte), recovered: recovered}
}

func (s *fakeStore) ClientInit(storeName string, ref GUID) (ClientHandle, error) {
	return ClientHandle{StoreName: storeName, Ref: ref}, nil
}

func (s *fakeStore) ClientTerminate(ClientHandle) error { return nil }

func (s *fakeStore) Write(h ClientHandle, guid GUID, body []byte) (ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[guid] = append([]byte(nil), body...)
	return h, nil
}

func (s *fakeStore) Read(h ClientHandle, guid GUID) ([]byte, ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[guid]
	if !ok {
		return nil, h, fmt.Errorf("fakeStore: guid %s not found", guid)
	}
	return append([]byte(nil), b...), h, nil
}

func (s *fakeStore) Remove(h ClientHandle, guids []GUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range guids {
		delete(s.data, g)
	}
	return nil
}

func (s *fakeStore) Release(ClientHandle, []GUID) error { return nil }

func (s *fakeStore) Contains(_ string, guid GUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[guid]
	return ok, nil
}

func (s *fakeStore) Sync(_ string, _ []GUID, cb func(error)) error {
	cb(nil)
	return nil
}

func (s *fakeStore) DeleteClient(string, GUID) error { return nil }

func (s *fakeStore) SuccessfullyRecoveredState(string) bool { return s.recovered }

func (s *fakeStore) Clean(string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[GUID][]byte)
	return nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// fakeIndex is an in-memory stand-in for a QueueIndex, with a
// configurable segment size so growDeltaFromQ2/Q3's segment-boundary
// behaviour can be exercised.
type fakeIndex struct {
	mu          sync.Mutex
	entries     map[SeqID]IndexEntry
	segmentSize SeqID
	terms       CheckpointTerms
	terminated  bool
}

func newFakeIndex(segmentSize SeqID) *fakeIndex {
	return &fakeIndex{entries: make(map[SeqID]IndexEntry), segmentSize: segmentSize}
}

func (x *fakeIndex) Init(_ string, recovered bool, _ func(GUID) bool) (int64, CheckpointTerms, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !recovered {
		return int64(len(x.entries)), CheckpointTerms{}, nil
	}
	return int64(len(x.entries)), x.terms, nil
}

func (x *fakeIndex) Bounds() (SeqID, SeqID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.entries) == 0 {
		return 0, 0, nil
	}
	var low, high SeqID
	first := true
	for seq := range x.entries {
		if first || seq < low {
			low = seq
		}
		if first || seq+1 > high {
			high = seq + 1
		}
		first = false
	}
	return low, high, nil
}

func (x *fakeIndex) Publish(guid GUID, seq SeqID, persistent bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[seq] = IndexEntry{SeqID: seq, GUID: guid, Persistent: persistent}
	return nil
}

func (x *fakeIndex) Deliver(seqs []SeqID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range seqs {
		e := x.entries[s]
		e.Delivered = true
		x.entries[s] = e
	}
	return nil
}

func (x *fakeIndex) Ack(seqs []SeqID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, s := range seqs {
		delete(x.entries, s)
	}
	return nil
}

func (x *fakeIndex) Sync([]SeqID) error { return nil }

func (x *fakeIndex) Read(from, to SeqID) ([]IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []IndexEntry
	for seq, e := range x.entries {
		if seq >= from && seq < to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	return out, nil
}

func (x *fakeIndex) NextSegmentBoundary(seq SeqID) SeqID {
	if x.segmentSize == 0 {
		return seq + 1
	}
	return (seq/x.segmentSize + 1) * x.segmentSize
}

func (x *fakeIndex) Flush() error { return nil }

func (x *fakeIndex) Terminate(terms CheckpointTerms) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.terms = terms
	x.terminated = true
	return nil
}

func (x *fakeIndex) DeleteAndTerminate() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[SeqID]IndexEntry)
	return nil
}

func (x *fakeIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

func newTestQueue(cfg Config) (*Queue, *fakeStore, *fakeStore, *fakeIndex) {
	persistent := newFakeStore(true)
	transient := newFakeStore(true)
	index := newFakeIndex(16)
	pipeline := &Pipeline{}
	persistentHandle := ClientHandle{StoreName: cfg.QueueName, Ref: uuid.New()}
	transientHandle := ClientHandle{StoreName: cfg.QueueName, Ref: uuid.New()}
	engine := &PhaseChangeEngine{
		queueName:        cfg.QueueName,
		pipeline:         pipeline,
		index:            index,
		persistent:       persistent,
		persistentHandle: persistentHandle,
		transient:        transient,
		transientHandle:  transientHandle,
		pacer:            NewIOPacer(0, IOBatch),
		metrics:          NewMetrics(nil),
	}
	rate := NewRateEstimator(time.Now(), 0)
	q := newQueue(cfg, nil, pipeline, engine, rate, index, persistent, transient, 0)
	return q, persistent, transient, index
}
