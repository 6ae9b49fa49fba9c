// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import "fmt"

// checkInvariants hoists the six structural invariants of the five-stage
// pipeline into a single function, run at every public boundary. It
// returns the first violation found, or nil.
//
// Seq-id monotonicity (invariant 6) is checked across the concatenation
// Q4 :: Q3 :: Delta :: Q2 :: Q1 -- Q4 is the read head and holds the
// smallest outstanding seq ids; Q1 holds the freshest arrivals held back
// by backlog and therefore the largest. This is the seq-magnitude order
// consistent with every migration rule below it (publish appends to Q1's
// tail, fetch pops Q4's head, demotion moves Q1-head into Q2-tail and
// Q4-tail into Q3-head, promotion pulls Q3-head into Q4-tail).
func checkInvariants(p *Pipeline) error {
	q1Empty := p.Q1.Len() == 0
	q2Empty := p.Q2.Len() == 0
	q3Empty := p.Q3.Len() == 0
	q4Empty := p.Q4.Len() == 0
	deltaEmpty := p.Delta.Empty()

	if !q1Empty && q3Empty {
		return fmt.Errorf("%w: Q1 non-empty but Q3 empty", ErrInvariantViolated)
	}
	if !q2Empty && deltaEmpty {
		return fmt.Errorf("%w: Q2 non-empty but Delta empty", ErrInvariantViolated)
	}
	if !deltaEmpty && q3Empty {
		return fmt.Errorf("%w: Delta non-empty but Q3 empty", ErrInvariantViolated)
	}
	length := p.Len()
	if length == 0 && (!q3Empty || !q4Empty) {
		return fmt.Errorf("%w: len=0 but Q3/Q4 non-empty", ErrInvariantViolated)
	}
	if length != 0 && q3Empty && q4Empty {
		return fmt.Errorf("%w: len!=0 but Q3 and Q4 both empty", ErrInvariantViolated)
	}
	if length < 0 || p.PersistentCount() < 0 || p.RAMMsgCount() < 0 || p.RAMIndexCount() < 0 {
		return fmt.Errorf("%w: negative aggregate count", ErrInvariantViolated)
	}
	if err := checkMonotone(p); err != nil {
		return err
	}
	return nil
}

func checkMonotone(p *Pipeline) error {
	var prev SeqID
	havePrev := false
	check := func(seq SeqID) error {
		if havePrev && seq <= prev {
			return fmt.Errorf("%w: seq id %d does not strictly follow %d", ErrInvariantViolated, seq, prev)
		}
		prev = seq
		havePrev = true
		return nil
	}
	for i := p.Q4.head; i < len(p.Q4.items); i++ {
		if err := check(p.Q4.items[i].SeqID); err != nil {
			return err
		}
	}
	for i := p.Q3.head; i < len(p.Q3.items); i++ {
		if err := check(p.Q3.items[i].SeqID); err != nil {
			return err
		}
	}
	if !p.Delta.Empty() {
		if havePrev && p.Delta.Start <= prev {
			return fmt.Errorf("%w: delta start %d does not strictly follow %d", ErrInvariantViolated, p.Delta.Start, prev)
		}
		prev = p.Delta.End - 1
		havePrev = true
	}
	for i := p.Q2.head; i < len(p.Q2.items); i++ {
		if err := check(p.Q2.items[i].SeqID); err != nil {
			return err
		}
	}
	for i := p.Q1.head; i < len(p.Q1.items); i++ {
		if err := check(p.Q1.items[i].SeqID); err != nil {
			return err
		}
	}
	return nil
}
