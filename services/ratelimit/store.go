package ratelimit

import (
	"context"
	"time"
)

// Counter is the state of one fixed window after an increment
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// CounterStore holds fixed-window counters. Increment must be atomic per key:
// when no live counter exists (or its window has elapsed) the counter restarts
// at 1 with ResetAt = now + window, otherwise it is incremented in place.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
}
