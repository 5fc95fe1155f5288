package worker

import (
	"math"
	"time"
)

// BackoffPolicy doubles the sync cadence after rate-limited failures, up to
// a cap.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// NextDelay returns the delay before the next scheduled attempt after the
// given number of consecutive failures (1-based), with clamping. One failure
// already doubles the base cadence.
func (p BackoffPolicy) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Hour
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}

	delay := float64(base) * math.Pow(factor, float64(failures))
	d := time.Duration(delay)
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if d <= 0 {
		d = base
	}
	return d
}
