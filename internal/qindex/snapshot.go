// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package qindex

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/s2"

	"github.com/fluxqueue/tierstore/internal/bufpool"
)

// writeSnapshot compacts recs (assumed sorted by seq, no tombstones) into
// a single S2-compressed blob at path, replacing whatever snapshot, if
// any, was there before.
func writeSnapshot(path string, recs []record) error {
	buf := bufpool.Get()
	defer bufpool.Put(buf)
	buf.Grow(len(recs) * RecordSize)
	var rec [RecordSize]byte
	for _, r := range recs {
		encodeRecord(rec[:], r)
		buf.Write(rec[:])
	}
	compressed := s2.Encode(nil, buf.Bytes())

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("qindex: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("qindex: install snapshot: %w", err)
	}
	return nil
}

// readSnapshot returns the records stored at path, or an empty slice if
// no snapshot has been written yet.
func readSnapshot(path string) ([]record, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("qindex: read snapshot: %w", err)
	}
	raw, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("qindex: decode snapshot: %w", err)
	}
	if len(raw)%RecordSize != 0 {
		return nil, fmt.Errorf("qindex: snapshot %s has truncated trailing record", path)
	}
	out := make([]record, 0, len(raw)/RecordSize)
	for off := 0; off < len(raw); off += RecordSize {
		rec, err := decodeRecord(raw[off : off+RecordSize])
		if err != nil {
			return nil, fmt.Errorf("qindex: snapshot record at offset %d: %w", off, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
