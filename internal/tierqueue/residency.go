// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

// Residency is the per-message status record: identity fields fixed at
// publish time, plus mutable tier bits flipped by the phase-change engine.
//
// Invariant: IndexOnDisk implies MsgOnDisk. A message cannot have its
// queue-index position durable while its body is still only in RAM.
type Residency struct {
	SeqID        SeqID
	GUID         GUID
	IsPersistent bool

	IsDelivered bool
	MsgOnDisk   bool
	IndexOnDisk bool

	// Body holds the message payload while MsgOnDisk is false. Once the
	// body is written through to a message store, Body is set to nil and
	// MsgOnDisk flips true; it is re-read by GUID on demand.
	Body []byte
}

// Tier reports the alpha/beta/gamma classification of r, for logging and
// metrics only; the pipeline containers are what actually drive behaviour.
func (r *Residency) Tier() string {
	switch {
	case !r.MsgOnDisk:
		return "alpha"
	case !r.IndexOnDisk:
		return "beta"
	default:
		return "gamma"
	}
}

func (r *Residency) checkInvariant() bool {
	return !r.IndexOnDisk || r.MsgOnDisk
}
