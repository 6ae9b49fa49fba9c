// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package qindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/fluxqueue/tierstore/internal/tierqueue"
)

// termsRecordSize is persistentRef(16) + transientRef(16) +
// persistentCount(8) + flags(1).
const termsRecordSize = 16 + 16 + 8 + 1

const (
	termsFlagHasPersistentRef byte = 1 << 0
	termsFlagHasTransientRef  byte = 1 << 1
)

func writeTerms(path string, terms tierqueue.CheckpointTerms) error {
	var buf [termsRecordSize]byte
	copy(buf[0:16], terms.PersistentRef[:])
	copy(buf[16:32], terms.TransientRef[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(terms.PersistentCount))
	var flags byte
	if terms.HasPersistentRef {
		flags |= termsFlagHasPersistentRef
	}
	if terms.HasTransientRef {
		flags |= termsFlagHasTransientRef
	}
	buf[40] = flags

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		return fmt.Errorf("qindex: write terms: %w", err)
	}
	return os.Rename(tmp, path)
}

// readTerms returns the zero-value CheckpointTerms, and false, if no
// terms file exists -- the signature of a queue that has never cleanly
// terminated.
func readTerms(path string) (tierqueue.CheckpointTerms, bool, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tierqueue.CheckpointTerms{}, false, nil
		}
		return tierqueue.CheckpointTerms{}, false, fmt.Errorf("qindex: read terms: %w", err)
	}
	if len(buf) != termsRecordSize {
		return tierqueue.CheckpointTerms{}, false, nil
	}
	var terms tierqueue.CheckpointTerms
	terms.PersistentRef, err = uuid.FromBytes(buf[0:16])
	if err != nil {
		return tierqueue.CheckpointTerms{}, false, nil
	}
	terms.TransientRef, err = uuid.FromBytes(buf[16:32])
	if err != nil {
		return tierqueue.CheckpointTerms{}, false, nil
	}
	terms.PersistentCount = int64(binary.LittleEndian.Uint64(buf[32:40]))
	flags := buf[40]
	terms.HasPersistentRef = flags&termsFlagHasPersistentRef != 0
	terms.HasTransientRef = flags&termsFlagHasTransientRef != 0
	return terms, true, nil
}
