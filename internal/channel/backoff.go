package channel

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff controls reconnect delay growth. The schedule is bounded
// exponential with full jitter: each wait is a uniform random duration
// in (0, delay], and delay grows by Multiplier up to MaxDelay after
// every failed attempt, resetting once a connection is established.
type Backoff struct {
	// InitialDelay is the base delay before the first reconnect
	// attempt (default: 1s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for delay growth (default: 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt (default: 2.0).
	Multiplier float64

	// NoJitter disables randomization, making every wait exactly the
	// current delay. Used by tests that assert attempt spacing.
	NoJitter bool
}

// DefaultBackoff returns the reconnect schedule: 1s, 2s, 4s, ...
// capped at 30s, jittered.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// withDefaults replaces zero-value fields with the defaults.
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	return b
}

// wait returns the jittered wait for the current delay.
func (b Backoff) wait(delay time.Duration) time.Duration {
	if b.NoJitter || delay <= 0 {
		return delay
	}
	return time.Duration(rand.Int64N(int64(delay))) + 1
}

// next grows the delay with the ceiling applied.
func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Multiplier)
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
