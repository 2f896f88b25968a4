package storage

import (
	"context"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data structures.
// This provider is ideal for development, testing, and scenarios where data
// persistence is not required. It provides fast access but data is lost on restart.
type MemoryStorage struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential // keyed by ID
	credHashes  map[string]string             // hash -> ID
	ownerTiers  map[string]string             // ownerID -> tier name
	usage       []*models.UsageRecord
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		credentials: make(map[string]*models.Credential),
		credHashes:  make(map[string]string),
		ownerTiers:  make(map[string]string),
	}, nil
}

// GetCredentialByHash retrieves a credential by its key hash
func (m *MemoryStorage) GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.credHashes[hash]
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modification
	credCopy := *m.credentials[id]
	return &credCopy, nil
}

// GetCredential retrieves a credential by its ID
func (m *MemoryStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, exists := m.credentials[id]
	if !exists {
		return nil, ErrNotFound
	}

	credCopy := *cred
	return &credCopy, nil
}

// CreateCredential stores a new credential
func (m *MemoryStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy to prevent external modification
	credCopy := *cred
	m.credentials[cred.ID] = &credCopy
	m.credHashes[cred.KeyHash] = cred.ID

	return nil
}

// ListCredentials returns all stored credentials
func (m *MemoryStorage) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	creds := make([]*models.Credential, 0, len(m.credentials))
	for _, cred := range m.credentials {
		credCopy := *cred
		creds = append(creds, &credCopy)
	}

	return creds, nil
}

// RevokeCredential marks a credential revoked at the given instant
func (m *MemoryStorage) RevokeCredential(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, exists := m.credentials[id]
	if !exists {
		return ErrNotFound
	}

	if cred.RevokedAt == nil {
		cred.RevokedAt = &at
	}
	return nil
}

// TouchLastUsed updates a credential's last-used timestamp
func (m *MemoryStorage) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, exists := m.credentials[id]
	if !exists {
		return ErrNotFound
	}

	cred.LastUsedAt = &at
	return nil
}

// GetOwnerTier returns the account tier for an owner, defaulting to free
func (m *MemoryStorage) GetOwnerTier(ctx context.Context, ownerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tier, exists := m.ownerTiers[ownerID]
	if !exists {
		return models.TierFree, nil
	}
	return tier, nil
}

// SetOwnerTier records an owner's account tier
func (m *MemoryStorage) SetOwnerTier(ctx context.Context, ownerID, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ownerTiers[ownerID] = tier
	return nil
}

// AppendUsage stores one usage record
func (m *MemoryStorage) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recCopy := *rec
	m.usage = append(m.usage, &recCopy)
	return nil
}

// UsageRecords returns a snapshot of appended usage records. Test helper;
// the service itself never reads usage back.
func (m *MemoryStorage) UsageRecords() []*models.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.UsageRecord, len(m.usage))
	for i, rec := range m.usage {
		recCopy := *rec
		out[i] = &recCopy
	}
	return out
}

// Ping always succeeds for memory storage
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (m *MemoryStorage) Close() error {
	return nil
}
