// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package msgstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

// BadgerStore is the persistent MessageStore class: message bodies
// written here are expected to survive a restart, so Sync fsyncs the
// value log before invoking its callback and SuccessfullyRecoveredState
// looks for the clean-shutdown marker left by the previous ClientTerminate.
type BadgerStore struct {
	db *badger.DB

	mu       sync.Mutex
	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
}

// BadgerConfig holds the on-disk location for a BadgerStore.
type BadgerConfig struct {
	Dir string
}

// NewBadgerStore opens (or creates) the BadgerDB database at cfg.Dir.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	// Async writes: the phase-change engine treats a persistent write as
	// durable only once Sync's callback fires, not on every Write.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 15

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("msgstore: open badger at %s: %w", cfg.Dir, err)
	}

	s := &BadgerStore{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	go s.runGC()
	return s, nil
}

func (s *BadgerStore) runGC() {
	defer close(s.gcDone)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}

// Close stops value-log GC and closes the underlying database. Not part
// of the MessageStore contract; called directly by the process that
// opened this store at shutdown.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.gcStopCh)
	<-s.gcDone
	return s.db.Close()
}

func (s *BadgerStore) ClientInit(storeName string, ref uuid.UUID) (tierqueue.ClientHandle, error) {
	return tierqueue.ClientHandle{StoreName: storeName, Ref: ref}, nil
}

func (s *BadgerStore) ClientTerminate(h tierqueue.ClientHandle) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cleanMarkerKey(h.StoreName), h.Ref[:])
	})
}

func (s *BadgerStore) Write(h tierqueue.ClientHandle, guid uuid.UUID, body []byte) (tierqueue.ClientHandle, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bodyKey(h.StoreName, guid), body)
	})
	if err != nil {
		return h, fmt.Errorf("msgstore: badger write %s: %w", guid, err)
	}
	return h, nil
}

func (s *BadgerStore) Read(h tierqueue.ClientHandle, guid uuid.UUID) ([]byte, tierqueue.ClientHandle, error) {
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bodyKey(h.StoreName, guid))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			body = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, h, fmt.Errorf("msgstore: badger read %s: %w", guid, err)
	}
	return body, h, nil
}

func (s *BadgerStore) Remove(h tierqueue.ClientHandle, guids []uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, g := range guids {
			if err := txn.Delete(bodyKey(h.StoreName, g)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Release drops guids' bodies. This store never de-duplicates a body
// across residencies, so the implicit refcount behind every GUID is
// always exactly one; the single Release call that reaches zero is
// this one, so releasing is deleting.
func (s *BadgerStore) Release(h tierqueue.ClientHandle, guids []uuid.UUID) error {
	return s.Remove(h, guids)
}

func (s *BadgerStore) Contains(storeName string, guid uuid.UUID) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(bodyKey(storeName, guid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Sync fsyncs the value log so every Write issued before this call is
// durable, then invokes cb. This is what backs tx_commit's suspend point
// for a durable transaction with a persistent publish.
func (s *BadgerStore) Sync(_ string, _ []uuid.UUID, cb func(error)) error {
	err := s.db.Sync()
	cb(err)
	return nil
}

func (s *BadgerStore) DeleteClient(storeName string, _ uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, queuePrefix(storeName)); err != nil {
			return err
		}
		return txn.Delete(cleanMarkerKey(storeName))
	})
}

// SuccessfullyRecoveredState reports, and consumes, the clean-shutdown
// marker left by the previous ClientTerminate for storeName. A marker
// found here means the previous process exited cleanly; its absence
// means either this is the first run or the previous run crashed.
func (s *BadgerStore) SuccessfullyRecoveredState(storeName string) bool {
	found := false
	_ = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(cleanMarkerKey(storeName))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return nil
		}
		found = true
		return txn.Delete(cleanMarkerKey(storeName))
	})
	return found
}

// Clean removes every key under storeName's prefix, used by broker
// startup to wipe a store class unconditionally (only ever called for
// the transient class in practice, but implemented generically here).
func (s *BadgerStore) Clean(storeName, _ string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, queuePrefix(storeName)); err != nil {
			return err
		}
		return txn.Delete(cleanMarkerKey(storeName))
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
