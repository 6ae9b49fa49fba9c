// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

// betaContainer wraps a dque for Q2/Q3: elements tagged index_on_disk, with
// an incrementally maintained count so "how many of my elements have their
// index persisted" is O(1) rather than a scan. This is the run-counter
// simplification of the index-bit-tagged deque design: instead of
// run-length-encoding the boolean, a single aggregate count is kept in
// step with every push/pop, since Q2/Q3 membership only changes at the
// outer ends.
type betaContainer struct {
	dque
	indexOnDiskCount int64
}

func (b *betaContainer) PushTail(r *Residency) {
	b.dque.PushTail(r)
	if r.IndexOnDisk {
		b.indexOnDiskCount++
	}
}

func (b *betaContainer) PushHead(r *Residency) {
	b.dque.PushHead(r)
	if r.IndexOnDisk {
		b.indexOnDiskCount++
	}
}

func (b *betaContainer) PopHead() (*Residency, bool) {
	r, ok := b.dque.PopHead()
	if ok && r.IndexOnDisk {
		b.indexOnDiskCount--
	}
	return r, ok
}

func (b *betaContainer) PopTail() (*Residency, bool) {
	r, ok := b.dque.PopTail()
	if ok && r.IndexOnDisk {
		b.indexOnDiskCount--
	}
	return r, ok
}

// markIndexOnDisk flips the bit of an element still resident in the
// container (used by beta-to-gamma) and keeps the aggregate count in sync.
func (b *betaContainer) markIndexOnDisk(r *Residency) {
	if r.IndexOnDisk {
		return
	}
	r.IndexOnDisk = true
	b.indexOnDiskCount++
}

// Pipeline is the ordered five-stage container Q1 -> Q2 -> Delta -> Q3 ->
// Q4. Seq ids increase along the path Q4 (oldest, the read head) through
// Q3, Delta, Q2, up to Q1 (freshest arrivals held back by backlog) -- the
// mirror image of the Q1/Q2/Delta/Q3/Q4 transition-flow naming, since a
// message is demoted Q1->Q2->Delta->Q3 and promoted back Delta->Q3->Q4
// strictly in order of when it was published, and freshly published
// messages always sort after whatever backlog already occupies Q2..Q4.
type Pipeline struct {
	Q1    dque
	Q2    betaContainer
	Delta DeltaRange
	Q3    betaContainer
	Q4    dque
}

// Len returns the total number of resident (non-delta) records plus the
// virtual count represented by Delta.
func (p *Pipeline) Len() int64 {
	return int64(p.Q1.Len()+p.Q2.Len()+p.Q3.Len()+p.Q4.Len()) + p.Delta.Count
}

// RAMMsgCount returns the number of records whose body is still in RAM
// (alpha records: Q1 and Q4 are always alpha by construction).
func (p *Pipeline) RAMMsgCount() int64 {
	return int64(p.Q1.Len() + p.Q4.Len())
}

// RAMIndexCount returns the number of records whose queue-index position
// is still only in RAM (everything except index-on-disk Q2/Q3 members;
// Delta is index-on-disk by definition).
func (p *Pipeline) RAMIndexCount() int64 {
	betaRAMIndex := int64(p.Q2.Len()) - p.Q2.indexOnDiskCount
	betaRAMIndex += int64(p.Q3.Len()) - p.Q3.indexOnDiskCount
	return int64(p.Q1.Len()+p.Q4.Len()) + betaRAMIndex
}

// PersistentCount returns the number of resident records flagged
// persistent; Delta's count is assumed persistent since only persistent
// (or, pre-filter, possibly transient-pending-drop) entries survive to
// become a delta range after startup's transient sweep.
func (p *Pipeline) PersistentCount() int64 {
	var n int64
	walk := func(d *dque) {
		for i := d.head; i < len(d.items); i++ {
			if d.items[i].IsPersistent {
				n++
			}
		}
	}
	walk(&p.Q1)
	walk(&p.Q2.dque)
	walk(&p.Q3.dque)
	walk(&p.Q4)
	return n + p.Delta.Count
}

// InsertPublish places a freshly published record per 4.H: Q1 tail if Q3
// is non-empty, else Q4 tail.
func (p *Pipeline) InsertPublish(r *Residency) {
	if p.Q3.Len() > 0 {
		p.Q1.PushTail(r)
		return
	}
	p.Q4.PushTail(r)
}

// PullForFetch returns the next record to deliver, removing it from Q4.
// The caller (phase-change engine via Queue.Fetch) is responsible for
// refilling Q4 from Q3/Delta first when Q4 is empty.
func (p *Pipeline) PullForFetch() (*Residency, bool) {
	return p.Q4.PopHead()
}
