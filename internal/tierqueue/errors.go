// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import "errors"

var (
	// ErrEmpty is returned by Fetch when the pipeline has nothing to
	// deliver. Callers treat it as an ordinary "empty" result, not a
	// failure.
	ErrEmpty = errors.New("tierqueue: queue is empty")

	// ErrNotEmpty is returned by PublishDelivered when the queue already
	// holds messages; that call is only valid on an empty queue.
	ErrNotEmpty = errors.New("tierqueue: queue is not empty")

	// ErrUnknownAckTag is returned by Ack/Requeue for a tag with no
	// matching pending-ack entry.
	ErrUnknownAckTag = errors.New("tierqueue: unknown ack tag")

	// ErrTxnNotFound is returned by tx_commit/tx_rollback for an unknown
	// transaction id (tx_publish/tx_ack create the transaction instead).
	ErrTxnNotFound = errors.New("tierqueue: unknown transaction")

	// ErrInvariantViolated is raised (and, depending on config, panicked)
	// when a structural invariant check fails after a mutator.
	ErrInvariantViolated = errors.New("tierqueue: structural invariant violated")

	// ErrTerminated is returned by Publish, PublishDelivered and Fetch
	// once DeleteAndTerminate or Terminate has run; other operations do
	// not check for termination.
	ErrTerminated = errors.New("tierqueue: queue already terminated")
)
