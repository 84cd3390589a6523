// Package reliability provides the delay policies used between reconnect
// attempts. Budgets count attempts, never wall-clock time, so swapping the
// policy does not change retry semantics.
package reliability

import (
	"math"
	"math/rand"
	"time"
)

// DelayPolicy computes the pause before a given reconnect attempt.
type DelayPolicy interface {
	// NextDelay returns the delay before the attempt with the given
	// zero-based ordinal.
	NextDelay(attempt int) time.Duration
}

// FixedDelay waits the same interval before every attempt.
type FixedDelay struct {
	Interval time.Duration
}

// Fixed creates a FixedDelay policy.
func Fixed(interval time.Duration) FixedDelay {
	return FixedDelay{Interval: interval}
}

// NextDelay implements DelayPolicy.
func (f FixedDelay) NextDelay(attempt int) time.Duration {
	if f.Interval <= 0 {
		return time.Second
	}
	return f.Interval
}

// ExponentialBackoff grows the delay per attempt up to a cap, with optional
// jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates an exponential policy with jitter enabled.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// NextDelay implements DelayPolicy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))

	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay // ±15% jitter
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
