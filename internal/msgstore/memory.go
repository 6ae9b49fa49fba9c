// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package msgstore

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

// MemoryStore is the transient MessageStore class: a plain map guarded by
// a mutex, since transient bodies never need to outlive the process.
// SuccessfullyRecoveredState always reports false -- there is nothing to
// recover in memory across a restart -- which is consistent with broker
// startup's unconditional Clean of the transient class.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) ClientInit(storeName string, ref uuid.UUID) (tierqueue.ClientHandle, error) {
	return tierqueue.ClientHandle{StoreName: storeName, Ref: ref}, nil
}

func (s *MemoryStore) ClientTerminate(tierqueue.ClientHandle) error { return nil }

func (s *MemoryStore) Write(h tierqueue.ClientHandle, guid uuid.UUID, body []byte) (tierqueue.ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(bodyKey(h.StoreName, guid))] = append([]byte(nil), body...)
	return h, nil
}

func (s *MemoryStore) Read(h tierqueue.ClientHandle, guid uuid.UUID) ([]byte, tierqueue.ClientHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[string(bodyKey(h.StoreName, guid))]
	if !ok {
		return nil, h, ErrNotFound
	}
	return append([]byte(nil), body...), h, nil
}

func (s *MemoryStore) Remove(h tierqueue.ClientHandle, guids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range guids {
		delete(s.data, string(bodyKey(h.StoreName, g)))
	}
	return nil
}

// Release drops guids' bodies. This store never de-duplicates a body
// across residencies, so the implicit refcount behind every GUID is
// always exactly one; the single Release call that reaches zero is
// this one, so releasing is deleting.
func (s *MemoryStore) Release(h tierqueue.ClientHandle, guids []uuid.UUID) error {
	return s.Remove(h, guids)
}

func (s *MemoryStore) Contains(storeName string, guid uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[string(bodyKey(storeName, guid))]
	return ok, nil
}

// Sync has nothing to fsync; it invokes cb immediately, modelling a
// non-durable queue's tx_commit, which never suspends on disk I/O.
func (s *MemoryStore) Sync(_ string, _ []uuid.UUID, cb func(error)) error {
	cb(nil)
	return nil
}

func (s *MemoryStore) DeleteClient(storeName string, _ uuid.UUID) error {
	return s.Clean(storeName, "")
}

func (s *MemoryStore) SuccessfullyRecoveredState(string) bool { return false }

// Clean drops every body namespaced under storeName. dir is accepted for
// interface parity with BadgerStore but unused.
func (s *MemoryStore) Clean(storeName, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := string(queuePrefix(storeName))
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}
