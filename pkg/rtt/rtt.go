// Package rtt implements the smoothed round-trip-time estimator: a
// TCP-style smoothed RTT/variance pair used to derive a probe timeout
// (PTO) for reliable-lane retransmission scheduling.
package rtt

import "time"

// DefaultInitial is the RTT assumed before any sample has been observed.
const DefaultInitial = 333 * time.Millisecond

// minVariance is the PTO's lower bound on 4*variance.
const minVariance = 1 * time.Millisecond

// Estimator tracks smoothed RTT, its variance, and the minimum observed
// sample, following the classic TCP/QUIC smoothing formula.
type Estimator struct {
	smoothed  time.Duration
	variance  time.Duration
	min       time.Duration
	hasSample bool
}

// New creates an Estimator seeded with initial (used as the PTO basis until
// the first real sample arrives).
func New(initial time.Duration) *Estimator {
	if initial <= 0 {
		initial = DefaultInitial
	}
	return &Estimator{smoothed: initial}
}

// Sample records a new RTT observation, updating smoothed/variance/min.
func (e *Estimator) Sample(sample time.Duration) {
	if sample < 0 {
		return
	}
	if !e.hasSample {
		e.smoothed = sample
		e.variance = sample / 2
		e.min = sample
		e.hasSample = true
		return
	}
	diff := e.smoothed - sample
	if diff < 0 {
		diff = -diff
	}
	e.variance = (3*e.variance + diff) / 4
	e.smoothed = (7*e.smoothed + sample) / 8
	if sample < e.min {
		e.min = sample
	}
}

// Smoothed returns the current smoothed RTT estimate.
func (e *Estimator) Smoothed() time.Duration { return e.smoothed }

// Variance returns the current RTT variance estimate.
func (e *Estimator) Variance() time.Duration { return e.variance }

// Min returns the minimum RTT observed so far, or zero if no sample yet.
func (e *Estimator) Min() time.Duration { return e.min }

// PTO returns the probe timeout: smoothed + max(4*variance, 1ms).
func (e *Estimator) PTO() time.Duration {
	v := 4 * e.variance
	if v < minVariance {
		v = minVariance
	}
	return e.smoothed + v
}
