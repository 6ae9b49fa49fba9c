// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tierqueue implements the five-stage residency pipeline that backs
// a single queue: Q1/Q2/Delta/Q3/Q4, the phase-change engine that slides
// messages between them to honour a RAM-duration target, and the
// publish/fetch/ack/requeue/transaction protocol built on top.
package tierqueue

import "github.com/google/uuid"

// SeqID is a monotone, non-negative sequence number assigned at publish
// time. It is stable for the lifetime of a message.
type SeqID uint64

// GUID is the opaque content identifier used as the primary key into a
// message store.
type GUID = uuid.UUID

// AckTag is returned by Fetch and PublishDelivered. It either names a seq
// id for which an ack is outstanding, or carries the "no ack required"
// sentinel.
type AckTag struct {
	seq     SeqID
	pending bool
}

// NoAck returns the sentinel ack tag meaning no ack is outstanding.
func NoAck() AckTag {
	return AckTag{}
}

// NewAckTag wraps a seq id as an outstanding ack tag.
func NewAckTag(seq SeqID) AckTag {
	return AckTag{seq: seq, pending: true}
}

// IsNone reports whether this tag carries no outstanding ack.
func (t AckTag) IsNone() bool {
	return !t.pending
}

// SeqIDValue returns the wrapped seq id and true if an ack is outstanding.
func (t AckTag) SeqIDValue() (SeqID, bool) {
	return t.seq, t.pending
}
