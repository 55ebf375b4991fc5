package firehose

import "time"

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
)

// Backoff yields exponentially growing reconnect delays. It is not safe for
// concurrent use; the client owns one per run loop.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff returns a backoff doubling from initial up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{initial: initial, max: max}
}

// Next returns the delay for the current attempt and advances.
func (b *Backoff) Next() time.Duration {
	d := b.max
	// 1<<30 seconds already exceeds any sane cap; stop shifting before overflow
	if b.attempt < 30 {
		if candidate := b.initial << b.attempt; candidate > 0 && candidate < b.max {
			d = candidate
		}
	}
	b.attempt++
	return d
}

// Reset returns the backoff to its initial delay.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt reports how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
