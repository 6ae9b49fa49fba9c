// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package msgstore

import "errors"

// ErrNotFound is returned by Read when the requested GUID has no body on
// record, either because it was never written or has already been
// removed.
var ErrNotFound = errors.New("msgstore: not found")
