package websocket

import (
	"math/rand"
	"time"
)

// BackoffPolicy controls reconnect pacing: exponential doubling from
// BaseDelay, capped at MaxDelay, with a random jitter fraction so a fleet of
// clients does not reconnect in lockstep after a venue outage.
type BackoffPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    uint
	JitterFraction float64
}

// DefaultBackoff matches the venue's reconnect guidance: start fast, back
// off to half a minute, give up after ten attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    10,
		JitterFraction: 0.2,
	}
}

// Delay returns the pause before retry attempt n (zero-based).
func (p BackoffPolicy) Delay(attempt uint) time.Duration {
	d := p.BaseDelay
	for i := uint(0); i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		jitter := time.Duration(float64(d) * p.JitterFraction * rand.Float64())
		d += jitter
	}
	return d
}
