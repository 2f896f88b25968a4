package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage implements the Storage interface using PostgreSQL.
// Intended for production deployments where multiple gate instances share
// one credential store.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	prefix TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id);

CREATE TABLE IF NOT EXISTS account_tiers (
	owner_id TEXT PRIMARY KEY,
	tier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	credential_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status_code INT NOT NULL,
	response_time_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_credential ON usage_records(credential_id, recorded_at);
`

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	// pgxpool has no idle-connection cap; MinConns keeps that many warm
	// instead.
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// GetCredentialByHash retrieves a credential by its key hash.
func (ps *PostgresStorage) GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials WHERE key_hash = $1`, hash)
	return scanPgCredential(row)
}

// GetCredential retrieves a credential by its ID.
func (ps *PostgresStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials WHERE id = $1`, id)
	return scanPgCredential(row)
}

// CreateCredential stores a new credential.
func (ps *PostgresStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO credentials (id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cred.ID, cred.OwnerID, cred.Name, cred.KeyHash, cred.Prefix,
		cred.CreatedAt, pgTimestamptz(cred.ExpiresAt), pgTimestamptz(cred.RevokedAt), pgTimestamptz(cred.LastUsedAt))
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// ListCredentials returns all stored credentials.
func (ps *PostgresStorage) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanPgCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// RevokeCredential marks a credential revoked at the given instant.
func (ps *PostgresStorage) RevokeCredential(ctx context.Context, id string, at time.Time) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE credentials SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := ps.GetCredential(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastUsed updates a credential's last-used timestamp.
func (ps *PostgresStorage) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE credentials SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOwnerTier returns the account tier for an owner, defaulting to free.
func (ps *PostgresStorage) GetOwnerTier(ctx context.Context, ownerID string) (string, error) {
	var tier string
	err := ps.pool.QueryRow(ctx,
		`SELECT tier FROM account_tiers WHERE owner_id = $1`, ownerID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner tier: %w", err)
	}
	return tier, nil
}

// SetOwnerTier records an owner's account tier (upsert).
func (ps *PostgresStorage) SetOwnerTier(ctx context.Context, ownerID, tier string) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO account_tiers (owner_id, tier) VALUES ($1, $2)
		 ON CONFLICT (owner_id) DO UPDATE SET tier = EXCLUDED.tier`, ownerID, tier)
	if err != nil {
		return fmt.Errorf("failed to set owner tier: %w", err)
	}
	return nil
}

// AppendUsage stores one usage record.
func (ps *PostgresStorage) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO usage_records (credential_id, endpoint, method, status_code, response_time_ms, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.CredentialID, rec.Endpoint, rec.Method, rec.StatusCode, rec.ResponseTimeMs, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func scanPgCredential(row pgx.Row) (*models.Credential, error) {
	var cred models.Credential
	var expiresAt, revokedAt, lastUsedAt pgtype.Timestamptz

	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.Name, &cred.KeyHash, &cred.Prefix,
		&cred.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		cred.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		cred.RevokedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cred.LastUsedAt = &t
	}
	return &cred, nil
}

func pgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
