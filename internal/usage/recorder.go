// Package usage records per-request usage asynchronously. Records feed
// billing and analytics, so losing one under pressure is acceptable; delaying
// a live request to persist one is not.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// DefaultBufferSize is the default capacity of the record queue.
const DefaultBufferSize = 1024

// Recorder buffers usage records on a channel and persists them from a
// single background worker. Log never blocks: when the buffer is full the
// record is dropped and counted.
type Recorder struct {
	store  storage.Storage
	logger *slog.Logger
	ch     chan *models.UsageRecord
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewRecorder creates a recorder with the given buffer capacity and starts
// its worker. A bufferSize of zero or less uses DefaultBufferSize.
func NewRecorder(store storage.Storage, logger *slog.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		ch:     make(chan *models.UsageRecord, bufferSize),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Log enqueues a record without blocking. If the buffer is full or the
// recorder is closed, the record is dropped with a warning.
func (r *Recorder) Log(rec *models.UsageRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.ch <- rec:
	default:
		r.logger.Warn("usage record dropped, buffer full",
			"credential_id", rec.CredentialID,
			"dropped_total", r.dropped.Add(1))
	}
}

// Dropped reports how many records have been discarded due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting records, drains the buffer, and waits for the worker
// to finish. Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.AppendUsage(ctx, rec); err != nil {
			r.logger.Warn("failed to persist usage record",
				"credential_id", rec.CredentialID,
				"endpoint", rec.Endpoint,
				"error", err)
		}
		cancel()
	}
}
