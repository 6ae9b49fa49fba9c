// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tierqueue

import (
	"context"

	"golang.org/x/time/rate"
)

// IOPacer throttles the disk-writing side of the phase-change engine
// (alpha->beta body writes, beta->gamma index writes). RamDuration and
// SetRamDurationTarget never consult it: per 4.D/4.E, raising the
// duration target must never block on disk, only lowering it does, and
// even then only the write path is paced, never the control-loop math.
//
// A PhaseChangeIOPerSecond of zero disables pacing entirely (an
// unlimited limiter), matching the "0 disables" convention of the
// ambient config.
type IOPacer struct {
	limiter *rate.Limiter
}

// NewIOPacer builds a pacer. perSecond <= 0 means unlimited.
func NewIOPacer(perSecond float64, burst int) *IOPacer {
	if perSecond <= 0 {
		return &IOPacer{limiter: rate.NewLimiter(rate.Inf, burst)}
	}
	return &IOPacer{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// WaitN blocks until n IO operations may proceed.
func (p *IOPacer) WaitN(ctx context.Context, n int) error {
	if p == nil || p.limiter == nil || n <= 0 {
		return nil
	}
	return p.limiter.WaitN(ctx, n)
}
