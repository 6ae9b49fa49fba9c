// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// IOBatch is the fixed batch size controlling alpha->beta and beta->gamma
// amortisation; both a floor and a ceiling per pass.
const IOBatch = 64

// PhaseChangeEngine implements the one-way transitions alpha->beta,
// beta->gamma, beta/gamma->delta, and the demand-driven reverse
// delta->beta, operating directly on a Pipeline and its backing stores.
type PhaseChangeEngine struct {
	queueName string
	pipeline  *Pipeline
	index     QueueIndex

	persistent       MessageStore
	persistentHandle ClientHandle
	transient        MessageStore
	transientHandle  ClientHandle

	pacer              *IOPacer
	metrics            *Metrics
	transientThreshold SeqID
	log                *slog.Logger
}

// logTransition emits a debug line for a phase-change transition that
// actually moved at least one element. A nil log is silently a no-op,
// matching Metrics' nil-receiver convention.
func (e *PhaseChangeEngine) logTransition(transition string, moved int) {
	if e.log == nil || moved == 0 {
		return
	}
	e.log.Debug("phase change", "queue", e.queueName, "transition", transition, "moved", moved)
}

func (e *PhaseChangeEngine) storeFor(r *Residency) (MessageStore, ClientHandle) {
	if r.IsPersistent {
		return e.persistent, e.persistentHandle
	}
	return e.transient, e.transientHandle
}

func (e *PhaseChangeEngine) setHandle(r *Residency, h ClientHandle) {
	if r.IsPersistent {
		e.persistentHandle = h
	} else {
		e.transientHandle = h
	}
}

func (e *PhaseChangeEngine) shedBody(r *Residency) error {
	if r.MsgOnDisk {
		return nil
	}
	store, handle := e.storeFor(r)
	newHandle, err := store.Write(handle, r.GUID, r.Body)
	if err != nil {
		return fmt.Errorf("tierqueue: shed body for seq %d: %w", r.SeqID, err)
	}
	e.setHandle(r, newHandle)
	r.Body = nil
	r.MsgOnDisk = true
	return nil
}

// AlphaToBeta sheds bodies for up to n elements taken from the outer ends
// of Q1 (head) and Q4 (tail), per 4.E.
func (e *PhaseChangeEngine) AlphaToBeta(ctx context.Context, n int) (int, error) {
	moved := 0
	for moved < n {
		took := false
		if r, ok := e.pipeline.Q1.PeekHead(); ok {
			if err := e.shedBody(r); err != nil {
				return moved, err
			}
			e.pipeline.Q1.PopHead()
			e.pipeline.Q2.PushTail(r)
			moved++
			took = true
		}
		if moved >= n {
			break
		}
		if r, ok := e.pipeline.Q4.PeekTail(); ok {
			if err := e.shedBody(r); err != nil {
				return moved, err
			}
			e.pipeline.Q4.PopTail()
			e.pipeline.Q3.PushHead(r)
			moved++
			took = true
		}
		if !took {
			break
		}
	}
	if moved > 0 {
		if err := e.pacer.WaitN(ctx, moved); err != nil {
			return moved, err
		}
		e.metrics.incPhaseChange(e.queueName, "alpha_to_beta")
		e.logTransition("alpha_to_beta", moved)
	}
	return moved, nil
}

// BetaToGamma writes queue-index entries, in place, for up to n elements
// of Q2/Q3 whose index position is still only in RAM.
func (e *PhaseChangeEngine) BetaToGamma(ctx context.Context, n int) (int, error) {
	moved := 0
	moved, err := e.betaToGammaContainer(&e.pipeline.Q2, n, moved)
	if err != nil {
		return moved, err
	}
	moved, err = e.betaToGammaContainer(&e.pipeline.Q3, n, moved)
	if err != nil {
		return moved, err
	}
	if moved > 0 {
		if err := e.pacer.WaitN(ctx, moved); err != nil {
			return moved, err
		}
		e.metrics.incPhaseChange(e.queueName, "beta_to_gamma")
		e.logTransition("beta_to_gamma", moved)
	}
	return moved, nil
}

func (e *PhaseChangeEngine) betaToGammaContainer(c *betaContainer, limit, moved int) (int, error) {
	for i := c.head; i < len(c.items) && moved < limit; i++ {
		r := c.items[i]
		if r.IndexOnDisk {
			continue
		}
		if err := e.index.Publish(r.GUID, r.SeqID, r.IsPersistent); err != nil {
			return moved, fmt.Errorf("tierqueue: publish index entry for seq %d: %w", r.SeqID, err)
		}
		c.markIndexOnDisk(r)
		moved++
	}
	return moved, nil
}

func (e *PhaseChangeEngine) ensureGamma(r *Residency, container *betaContainer) error {
	if r.IndexOnDisk {
		return nil
	}
	if err := e.index.Publish(r.GUID, r.SeqID, r.IsPersistent); err != nil {
		return fmt.Errorf("tierqueue: publish index entry for seq %d: %w", r.SeqID, err)
	}
	container.markIndexOnDisk(r)
	return nil
}

// growDeltaFromQ3 extends Delta downward by eating Q3's tail, up to n
// elements, stopping at the first element whose NextSegmentBoundary
// differs from that of the first (largest) candidate considered, so one
// call never absorbs elements from two index segments.
func (e *PhaseChangeEngine) growDeltaFromQ3(n int) (int, error) {
	moved := 0
	var boundary SeqID
	haveBoundary := false
	for moved < n {
		r, ok := e.pipeline.Q3.PeekTail()
		if !ok {
			break
		}
		if !e.pipeline.Delta.Empty() && r.SeqID+1 != e.pipeline.Delta.Start {
			break
		}
		curBoundary := e.index.NextSegmentBoundary(r.SeqID)
		if !haveBoundary {
			boundary = curBoundary
			haveBoundary = true
		} else if curBoundary != boundary {
			break
		}
		if err := e.ensureGamma(r, &e.pipeline.Q3); err != nil {
			return moved, err
		}
		e.pipeline.Q3.PopTail()
		if e.pipeline.Delta.Empty() {
			e.pipeline.Delta = DeltaRange{Start: r.SeqID, End: r.SeqID + 1, Count: 1}
		} else {
			e.pipeline.Delta.Start = r.SeqID
			e.pipeline.Delta.Count++
		}
		moved++
	}
	if moved > 0 {
		e.metrics.incPhaseChange(e.queueName, "beta_gamma_to_delta")
		e.logTransition("beta_gamma_to_delta", moved)
	}
	return moved, nil
}

// growDeltaFromQ2 extends Delta upward by eating Q2's head, symmetric to
// growDeltaFromQ3.
func (e *PhaseChangeEngine) growDeltaFromQ2(n int) (int, error) {
	moved := 0
	var boundary SeqID
	haveBoundary := false
	for moved < n {
		r, ok := e.pipeline.Q2.PeekHead()
		if !ok {
			break
		}
		if !e.pipeline.Delta.Empty() && r.SeqID != e.pipeline.Delta.End {
			break
		}
		curBoundary := e.index.NextSegmentBoundary(r.SeqID)
		if !haveBoundary {
			boundary = curBoundary
			haveBoundary = true
		} else if curBoundary != boundary {
			break
		}
		if err := e.ensureGamma(r, &e.pipeline.Q2); err != nil {
			return moved, err
		}
		e.pipeline.Q2.PopHead()
		if e.pipeline.Delta.Empty() {
			e.pipeline.Delta = DeltaRange{Start: r.SeqID, End: r.SeqID + 1, Count: 1}
		} else {
			e.pipeline.Delta.End = r.SeqID + 1
			e.pipeline.Delta.Count++
		}
		moved++
	}
	if moved > 0 {
		e.metrics.incPhaseChange(e.queueName, "beta_gamma_to_delta")
		e.logTransition("beta_gamma_to_delta", moved)
	}
	return moved, nil
}

// collapseAllToDelta is the terminal-demotion transition: when the target
// RAM budget drops to zero, every beta/gamma element is folded into Delta
// without the usual one-segment-per-call throttling. If this empties Q3
// while Delta is still non-empty, invariant 3 (Delta empty or Q3
// non-empty) would break at the caller boundary, so a single demand-driven
// delta->beta pass re-primes Q3 -- the same move startup's InitQueue makes
// right after constructing the initial Delta.
func (e *PhaseChangeEngine) collapseAllToDelta(_ context.Context) error {
	safety := e.pipeline.Q2.Len() + e.pipeline.Q3.Len() + 1
	for i := 0; i < safety; i++ {
		m1, err := e.growDeltaFromQ3(e.pipeline.Q3.Len() + 1)
		if err != nil {
			return err
		}
		m2, err := e.growDeltaFromQ2(e.pipeline.Q2.Len() + 1)
		if err != nil {
			return err
		}
		if m1 == 0 && m2 == 0 {
			break
		}
	}
	return e.reprimeQ3IfDrained()
}

// reprimeQ3IfDrained restores invariant 3 (Delta empty or Q3 non-empty)
// with a single demand-driven delta->beta pass whenever a growDelta call
// has just emptied Q3 while Delta is still non-empty.
func (e *PhaseChangeEngine) reprimeQ3IfDrained() error {
	if e.pipeline.Q3.Len() != 0 || e.pipeline.Delta.Empty() {
		return nil
	}
	_, err := e.DeltaToBeta()
	return err
}

// DeltaToBeta is the demand-driven reverse transition, run when Q3 has
// emptied and Delta still holds messages: from Fetch, from
// reprimeQ3IfDrained, and once by InitQueue to prime Q3. It reads up
// to one index segment worth of entries, drops transient orphans below
// transientThreshold, and appends survivors to Q3's tail.
func (e *PhaseChangeEngine) DeltaToBeta() (int, error) {
	if e.pipeline.Delta.Empty() {
		return 0, nil
	}
	boundary := e.index.NextSegmentBoundary(e.pipeline.Delta.Start)
	if boundary > e.pipeline.Delta.End || boundary <= e.pipeline.Delta.Start {
		boundary = e.pipeline.Delta.End
	}
	entries, err := e.index.Read(e.pipeline.Delta.Start, boundary)
	if err != nil {
		return 0, fmt.Errorf("tierqueue: read delta range [%d,%d): %w", e.pipeline.Delta.Start, boundary, err)
	}
	survivors := 0
	for _, ent := range entries {
		if ent.SeqID < e.transientThreshold && !ent.Persistent {
			continue
		}
		r := &Residency{
			SeqID:        ent.SeqID,
			GUID:         ent.GUID,
			IsPersistent: ent.Persistent,
			IsDelivered:  ent.Delivered,
			MsgOnDisk:    true,
			IndexOnDisk:  true,
		}
		e.pipeline.Q3.PushTail(r)
		survivors++
	}
	e.pipeline.Delta.Count -= int64(len(entries))
	e.pipeline.Delta.Start = boundary
	if e.pipeline.Delta.Start >= e.pipeline.Delta.End || e.pipeline.Delta.Count <= 0 {
		e.pipeline.Delta = blankDelta()
		for {
			r, ok := e.pipeline.Q2.PopHead()
			if !ok {
				break
			}
			e.pipeline.Q3.PushTail(r)
		}
	}
	e.metrics.incPhaseChange(e.queueName, "delta_to_beta")
	e.logTransition("delta_to_beta", survivors)
	return survivors, nil
}

// RunPass applies the target-residency and permitted-RAM-index thresholds
// of 4.E once, then opportunistically coalesces cold runs into Delta, and
// finally forces a full collapse if targetRAM is zero.
func (e *PhaseChangeEngine) RunPass(ctx context.Context, targetRAM int64) error {
	ramMsg := e.pipeline.RAMMsgCount()
	chunk := ramMsg - targetRAM
	if chunk > IOBatch {
		chunk = IOBatch
	}
	if chunk > 0 {
		if _, err := e.AlphaToBeta(ctx, int(chunk)); err != nil {
			return err
		}
	}

	beta := int64(e.pipeline.Q2.Len() + e.pipeline.Q3.Len())
	deltaCount := e.pipeline.Delta.Count
	length := e.pipeline.Len()
	permitted := int64(math.MaxInt64)
	if length > deltaCount {
		permitted = beta - (beta*beta)/(length-deltaCount)
	}
	ramIndex := e.pipeline.RAMIndexCount()
	if permitted != math.MaxInt64 && ramIndex-permitted >= IOBatch {
		if _, err := e.BetaToGamma(ctx, IOBatch); err != nil {
			return err
		}
	}

	if _, err := e.growDeltaFromQ3(IOBatch); err != nil {
		return err
	}
	if _, err := e.growDeltaFromQ2(IOBatch); err != nil {
		return err
	}
	if err := e.reprimeQ3IfDrained(); err != nil {
		return err
	}

	if targetRAM == 0 {
		if err := e.collapseAllToDelta(ctx); err != nil {
			return err
		}
	}
	e.metrics.observe(e.queueName, e.pipeline)
	return nil
}
