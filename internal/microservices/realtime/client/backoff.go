package client

import (
	"math"
	"time"
)

// Reconnect defaults.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultMaxAttempts    = 10
)

// Backoff yields min(Initial*Factor^(n-1), Max) for the nth call to Next
// since the last Reset. No jitter: the sequence is deterministic.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	attempt int
}

func NewBackoff(initial, max time.Duration, factor float64) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max < initial {
		max = initial
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}
	return &Backoff{Initial: initial, Max: max, Factor: factor}
}

// Next returns the delay before the upcoming attempt and advances.
func (b *Backoff) Next() time.Duration {
	delay := float64(b.Initial) * math.Pow(b.Factor, float64(b.attempt))
	b.attempt++
	if delay > float64(b.Max) || math.IsInf(delay, 1) {
		return b.Max
	}
	return time.Duration(delay)
}

// Reset is called on every successful connection.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempts is the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int { return b.attempt }
