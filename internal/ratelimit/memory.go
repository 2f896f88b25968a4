package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counterKey identifies one (credential, window) counter.
type counterKey struct {
	credentialID string
	window       Window
}

// counterEntry holds a window's count and the instant it expires.
type counterEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryCounterStore is an in-process CounterStore backed by a mutex-guarded
// map. A background goroutine periodically sweeps entries whose window has
// already passed. Contention is brief: every operation holds the lock for a
// map access and a comparison, never across I/O.
type MemoryCounterStore struct {
	sweepInterval time.Duration

	mu      sync.Mutex
	entries map[counterKey]*counterEntry
	done    chan struct{}
	closed  bool
}

// DefaultSweepInterval is used when no positive sweep interval is given.
const DefaultSweepInterval = 5 * time.Minute

// NewMemoryCounterStore creates a counter store with the given sweep interval
// and starts the background sweep goroutine.
func NewMemoryCounterStore(sweepInterval time.Duration) *MemoryCounterStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	m := &MemoryCounterStore{
		sweepInterval: sweepInterval,
		entries:       make(map[counterKey]*counterEntry),
		done:          make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Get returns the pair's current state without mutating it. Expired entries
// read as fresh zero-count windows; the physical reset is deferred to Increment.
func (m *MemoryCounterStore) Get(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[counterKey{credentialID, w}]
	if !exists || !now.Before(e.resetAt) {
		return CounterState{Count: 0, ResetAt: now.Add(w.Duration())}, nil
	}
	return CounterState{Count: e.count, ResetAt: e.resetAt}, nil
}

// Increment adds one to the pair's counter, resetting the window first if it
// has expired. The mutex makes the read-reset-increment sequence atomic.
func (m *MemoryCounterStore) Increment(ctx context.Context, credentialID string, w Window, now time.Time) (CounterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := counterKey{credentialID, w}
	e, exists := m.entries[key]
	if !exists || !now.Before(e.resetAt) {
		e = &counterEntry{count: 1, resetAt: now.Add(w.Duration())}
		m.entries[key] = e
	} else {
		e.count++
	}
	return CounterState{Count: e.count, ResetAt: e.resetAt}, nil
}

// SweepExpired removes entries whose reset time has passed. Entries are only
// deleted when provably stale by timestamp comparison, so a sweep racing with
// Get/Increment can never drop a live window.
func (m *MemoryCounterStore) SweepExpired(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep goroutine.
func (m *MemoryCounterStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// sweep periodically evicts expired entries until Close is called.
func (m *MemoryCounterStore) sweep() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.SweepExpired(context.Background(), time.Now())
		}
	}
}

// len reports the number of live entries. Test helper.
func (m *MemoryCounterStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
