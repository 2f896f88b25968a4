package usage

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

func newTestStore(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(credID string) *models.UsageRecord {
	return &models.UsageRecord{
		CredentialID:   credID,
		Endpoint:       "/api/v1/data",
		Method:         "GET",
		StatusCode:     200,
		ResponseTimeMs: 12,
		RecordedAt:     time.Now().UTC(),
	}
}

func TestRecorder_LogPersistsRecords(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, slog.Default(), 16)

	recorder.Log(record("cred-1"))
	recorder.Log(record("cred-2"))
	recorder.Close()

	records := store.UsageRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "cred-1", records[0].CredentialID)
	assert.Equal(t, "cred-2", records[1].CredentialID)
}

func TestRecorder_CloseDrainsBuffer(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, slog.Default(), 100)

	for i := 0; i < 50; i++ {
		recorder.Log(record("cred-1"))
	}
	recorder.Close()

	assert.Len(t, store.UsageRecords(), 50, "records buffered before close must be persisted")
}

func TestRecorder_LogAfterCloseIsNoop(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, slog.Default(), 16)
	recorder.Close()

	recorder.Log(record("cred-1"))
	assert.Empty(t, store.UsageRecords())
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, slog.Default(), 16)
	recorder.Close()
	recorder.Close()
}

// blockingStore stalls AppendUsage until released, to force a full buffer.
type blockingStore struct {
	*storage.MemoryStorage
	release chan struct{}
}

func (b *blockingStore) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	<-b.release
	return b.MemoryStorage.AppendUsage(ctx, rec)
}

func TestRecorder_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	store := newTestStore(t)
	blocking := &blockingStore{MemoryStorage: store, release: make(chan struct{})}
	recorder := NewRecorder(blocking, slog.Default(), 2)

	// With the worker stalled, the buffer (2) plus the in-flight record (1)
	// absorb three records; everything beyond that is dropped.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			recorder.Log(record("cred-1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log must not block when the buffer is full")
	}

	assert.Greater(t, recorder.Dropped(), int64(0))

	close(blocking.release)
	recorder.Close()
}

func TestRecorder_ConcurrentLog(t *testing.T) {
	store := newTestStore(t)
	recorder := NewRecorder(store, slog.Default(), 1024)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				recorder.Log(record("cred-1"))
			}
		}()
	}
	wg.Wait()
	recorder.Close()

	persisted := int64(len(store.UsageRecords()))
	assert.Equal(t, int64(200)-recorder.Dropped(), persisted)
}
