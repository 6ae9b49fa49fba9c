// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

// pendingAckEntry is the tagged-union arm described in 4.G / design note
// "Polymorphic pending-ack entries": either the full residency record (body
// still resident) or just enough to reach the disk copy.
type pendingAckEntry struct {
	full         *Residency
	onDisk       bool
	isPersistent bool
	guid         GUID
}

func fullAckEntry(r *Residency) pendingAckEntry {
	return pendingAckEntry{full: r}
}

func diskAckEntry(isPersistent bool, guid GUID) pendingAckEntry {
	return pendingAckEntry{onDisk: true, isPersistent: isPersistent, guid: guid}
}

// pendingAckMap tracks delivered-but-unacked messages, created on fetch
// with ack_required=true or publish_delivered(true, ...), and destroyed on
// matching ack, requeue, or shutdown cleanup.
type pendingAckMap struct {
	entries map[SeqID]pendingAckEntry
}

func newPendingAckMap() *pendingAckMap {
	return &pendingAckMap{entries: make(map[SeqID]pendingAckEntry)}
}

func (m *pendingAckMap) put(seq SeqID, e pendingAckEntry) {
	m.entries[seq] = e
}

func (m *pendingAckMap) take(seq SeqID) (pendingAckEntry, bool) {
	e, ok := m.entries[seq]
	if ok {
		delete(m.entries, seq)
	}
	return e, ok
}

func (m *pendingAckMap) peek(seq SeqID) (pendingAckEntry, bool) {
	e, ok := m.entries[seq]
	return e, ok
}

func (m *pendingAckMap) len() int {
	return len(m.entries)
}

// drain empties the map, returning every entry. Used by Terminate and
// DeleteAndTerminate; Purge leaves the map untouched.
func (m *pendingAckMap) drain() map[SeqID]pendingAckEntry {
	out := m.entries
	m.entries = make(map[SeqID]pendingAckEntry)
	return out
}
