// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package qindex implements the per-queue append-only log of
// (seq_id, guid, persistent?, delivered?, acked?) tuples that backs a
// tierqueue.QueueIndex: a plain uncompressed write-ahead log for crash
// safety, periodically compacted into an S2-compressed snapshot so a
// long-lived queue's on-disk footprint does not grow without bound.
package qindex

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

// RecordSize is the fixed on-disk width of one log record: seq(8) +
// guid(16) + flags(1) + crc32(4).
const RecordSize = 8 + 16 + 1 + 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

const (
	flagPersistent byte = 1 << 0
	flagDelivered  byte = 1 << 1
	flagAcked      byte = 1 << 2
)

// record is the in-memory form of one log entry. acked marks a tombstone:
// a record with acked set overrides any earlier live record for the same
// seq id during WAL replay, and is itself dropped once compacted into a
// snapshot.
type record struct {
	seq        uint64
	guid       uuid.UUID
	persistent bool
	delivered  bool
	acked      bool
}

func (r record) flags() byte {
	var f byte
	if r.persistent {
		f |= flagPersistent
	}
	if r.delivered {
		f |= flagDelivered
	}
	if r.acked {
		f |= flagAcked
	}
	return f
}

func encodeRecord(buf []byte, r record) {
	binary.LittleEndian.PutUint64(buf[0:8], r.seq)
	copy(buf[8:24], r.guid[:])
	buf[24] = r.flags()
	crc := crc32.Checksum(buf[:25], crcTable)
	binary.LittleEndian.PutUint32(buf[25:29], crc)
}

// decodeRecord validates the CRC before returning, so a truncated or
// torn write at the tail of the WAL is reported rather than silently
// misread.
func decodeRecord(buf []byte) (record, error) {
	if len(buf) < RecordSize {
		return record{}, ErrShortRecord
	}
	storedCRC := binary.LittleEndian.Uint32(buf[25:29])
	gotCRC := crc32.Checksum(buf[:25], crcTable)
	if storedCRC != gotCRC {
		return record{}, ErrCorruptRecord
	}
	var r record
	r.seq = binary.LittleEndian.Uint64(buf[0:8])
	copy(r.guid[:], buf[8:24])
	flags := buf[24]
	r.persistent = flags&flagPersistent != 0
	r.delivered = flags&flagDelivered != 0
	r.acked = flags&flagAcked != 0
	return r, nil
}
