// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package msgstore implements the content-addressed MessageStore contract
// the storage tier delegates to whenever a body is shed to disk: one
// class backed by BadgerDB for persistent messages, and one in-memory
// class for transient messages that never need to survive a restart.
package msgstore

import (
	"github.com/google/uuid"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

// bodyKey builds the storage key for a message body, namespaced by queue
// so Clean/DeleteClient can prefix-scan a single queue's entries without
// touching any other queue's data in the same database.
func bodyKey(storeName string, guid uuid.UUID) []byte {
	key := make([]byte, 0, len(storeName)+1+len(guid))
	key = append(key, storeName...)
	key = append(key, '/')
	key = append(key, guid[:]...)
	return key
}

func queuePrefix(storeName string) []byte {
	return append([]byte(storeName), '/')
}

func cleanMarkerKey(storeName string) []byte {
	return []byte("__meta/clean/" + storeName)
}

var _ tierqueue.MessageStore = (*BadgerStore)(nil)
var _ tierqueue.MessageStore = (*MemoryStore)(nil)
