package ratelimit

import (
	"context"
	"time"
)

// CounterState is the observed state of one (credential, window) counter at a
// point in time.
type CounterState struct {
	Count   int64
	ResetAt time.Time
}

// CounterStore holds per-credential, per-window request counters with expiry.
// It is the one piece of shared mutable state in the gate; all atomicity
// discipline lives behind this interface so the limiter logic is identical
// whether the backing store is an in-process map or a distributed cache.
//
// Expiry is lazy: once now reaches an entry's reset time the entry reads as a
// fresh zero-count window, with the physical reset happening on the next
// Increment. SweepExpired is a memory-bounding optimization only; logical
// correctness never depends on it.
type CounterStore interface {
	// Get returns the current state for the pair without mutating anything.
	// Absent or expired entries read as count zero with a reset of
	// now + the window duration.
	Get(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error)

	// Increment atomically adds one to the pair's counter, first resetting
	// the window if it has expired, and returns the resulting state. Two
	// concurrent Increments must never lose a count.
	Increment(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error)

	// SweepExpired removes entries whose reset time has passed and returns
	// how many were removed. It must be safe to run concurrently with Get
	// and Increment and must never remove a live entry.
	SweepExpired(ctx context.Context, now time.Time) int

	// Close stops background goroutines and releases resources.
	Close()
}
