// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"math"
	"time"
)

// direction accumulates publish or fetch counts over a wallclock window.
type direction struct {
	windowStart time.Time
	count       int64
	prevCount   int64
	avgPerSec   float64
}

// RateEstimator keeps exponential-ish averages of ingress and egress and
// converts a caller-supplied RAM-duration target into a RAM-message
// target for the phase-change engine.
//
// The source records ingress at init as {now, delta_count} but egress as
// {now, 0}, biasing the first RamDuration call toward a high ingress
// estimate; that asymmetry is kept here (see NewRateEstimator) per the
// design note flagging this as advisory-only for the first sample.
type RateEstimator struct {
	in             direction
	out            direction
	ramMsgCountPrev int64
	targetRAM       int64 // current target_ram_msg_count, math.MaxInt64 means infinite
	targetDuration  float64
}

// NewRateEstimator creates an estimator primed at startup with deltaCount
// already-known backlog messages counted as ingress history.
func NewRateEstimator(now time.Time, deltaCount int64) *RateEstimator {
	return &RateEstimator{
		in:             direction{windowStart: now, count: deltaCount},
		out:            direction{windowStart: now},
		targetRAM:      math.MaxInt64,
		targetDuration: math.Inf(1),
	}
}

// RecordPublish marks one ingress event.
func (e *RateEstimator) RecordPublish() {
	e.in.count++
}

// RecordFetch marks one egress event.
func (e *RateEstimator) RecordFetch() {
	e.out.count++
}

// RamDuration samples the wall clock, rolls the per-direction windows, and
// returns the estimated seconds of backlog currently resident, per 4.D.
func (e *RateEstimator) RamDuration(now time.Time, ramMsgCount int64) float64 {
	avgIn := rollWindow(&e.in, now)
	avgOut := rollWindow(&e.out, now)

	prev := e.ramMsgCountPrev
	e.ramMsgCountPrev = ramMsgCount

	if avgIn == 0 && avgOut == 0 {
		return math.Inf(1)
	}
	return float64(prev+ramMsgCount) / (2 * (avgIn + avgOut))
}

func rollWindow(d *direction, now time.Time) float64 {
	elapsedUs := now.Sub(d.windowStart).Microseconds()
	if elapsedUs <= 0 {
		elapsedUs = 1
	}
	avg := float64(d.count+d.prevCount) * 1e6 / float64(elapsedUs)
	d.prevCount = d.count
	d.count = 0
	d.windowStart = now
	d.avgPerSec = avg
	return avg
}

// SetRamDurationTarget computes target_ram_msg_count from a duration
// target and reports whether the new target is strictly lower than the
// prior one (the trigger for an eager phase-change pass).
func (e *RateEstimator) SetRamDurationTarget(target float64) (lowered bool, targetRAM int64) {
	var newTarget int64
	if math.IsInf(target, 1) {
		newTarget = math.MaxInt64
	} else {
		rate := e.in.avgPerSec + e.out.avgPerSec
		newTarget = int64(math.Floor(target * rate))
		if newTarget < 0 {
			newTarget = 0
		}
	}
	lowered = newTarget < e.targetRAM
	e.targetDuration = target
	e.targetRAM = newTarget
	return lowered, newTarget
}

// TargetRAMMsgCount returns the most recently computed target.
func (e *RateEstimator) TargetRAMMsgCount() int64 {
	return e.targetRAM
}
