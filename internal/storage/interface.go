package storage

import (
	"context"
	"time"

	"gatekeeper/internal/models"
)

// Storage defines the interface for credential, tier, and usage persistence.
// It provides a clean abstraction that can be implemented by different
// backends such as an in-memory map, SQLite, or PostgreSQL.
//
// The admission gate only ever reads credentials and appends usage; credential
// creation and revocation happen through the admin API. TouchLastUsed and
// AppendUsage are best-effort from the caller's perspective: the gate invokes
// them off the request's critical path and ignores failures.
type Storage interface {
	// GetCredentialByHash retrieves a credential by the SHA-256 hex hash of
	// its raw key. Returns ErrNotFound when no credential matches.
	GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error)

	// GetCredential retrieves a credential by its ID. Returns ErrNotFound
	// when no credential matches.
	GetCredential(ctx context.Context, id string) (*models.Credential, error)

	// CreateCredential stores a new credential.
	CreateCredential(ctx context.Context, cred *models.Credential) error

	// ListCredentials returns all stored credentials (metadata; hashes included,
	// raw keys are never stored).
	ListCredentials(ctx context.Context) ([]*models.Credential, error)

	// RevokeCredential marks a credential revoked at the given instant.
	// Revocation is permanent; revoking an already-revoked credential is a no-op.
	RevokeCredential(ctx context.Context, id string, at time.Time) error

	// TouchLastUsed updates a credential's last-used timestamp.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// GetOwnerTier returns the account tier name for an owner. Owners without
	// an explicit tier resolve to models.TierFree.
	GetOwnerTier(ctx context.Context, ownerID string) (string, error)

	// SetOwnerTier records an owner's account tier.
	SetOwnerTier(ctx context.Context, ownerID, tier string) error

	// AppendUsage stores one usage record. Records are append-only.
	AppendUsage(ctx context.Context, rec *models.UsageRecord) error

	// Ping verifies the backend is reachable. Used by health checks.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool tuning for database backends. Zero values keep the driver defaults.
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time,omitempty" yaml:"conn_max_idle_time,omitempty"`
}
