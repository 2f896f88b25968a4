package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatekeeper/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface using a local SQLite database.
// Suitable for single-node deployments where an external database is overkill.
type SQLiteStorage struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	prefix TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP,
	revoked_at TIMESTAMP,
	last_used_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id);

CREATE TABLE IF NOT EXISTS account_tiers (
	owner_id TEXT PRIMARY KEY,
	tier TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	credential_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	response_time_ms INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_credential ON usage_records(credential_id, recorded_at);
`

// NewSQLiteStorage creates a new SQLite storage instance and ensures the schema exists.
func NewSQLiteStorage(config Config) (Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{
		db: db,
	}, nil
}

// GetCredentialByHash retrieves a credential by its key hash
func (ss *SQLiteStorage) GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials WHERE key_hash = ?`, hash)
	return scanCredential(row)
}

// GetCredential retrieves a credential by its ID
func (ss *SQLiteStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// CreateCredential stores a new credential
func (ss *SQLiteStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO credentials (id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.OwnerID, cred.Name, cred.KeyHash, cred.Prefix,
		cred.CreatedAt, nullableTime(cred.ExpiresAt), nullableTime(cred.RevokedAt), nullableTime(cred.LastUsedAt))
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// ListCredentials returns all stored credentials
func (ss *SQLiteStorage) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, owner_id, name, key_hash, prefix, created_at, expires_at, revoked_at, last_used_at
		 FROM credentials ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// RevokeCredential marks a credential revoked at the given instant
func (ss *SQLiteStorage) RevokeCredential(ctx context.Context, id string, at time.Time) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE credentials SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	if affected == 0 {
		// Either already revoked or missing; only the latter is an error.
		if _, err := ss.GetCredential(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TouchLastUsed updates a credential's last-used timestamp
func (ss *SQLiteStorage) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOwnerTier returns the account tier for an owner, defaulting to free
func (ss *SQLiteStorage) GetOwnerTier(ctx context.Context, ownerID string) (string, error) {
	var tier string
	err := ss.db.QueryRowContext(ctx,
		`SELECT tier FROM account_tiers WHERE owner_id = ?`, ownerID).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get owner tier: %w", err)
	}
	return tier, nil
}

// SetOwnerTier records an owner's account tier (upsert)
func (ss *SQLiteStorage) SetOwnerTier(ctx context.Context, ownerID, tier string) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO account_tiers (owner_id, tier) VALUES (?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET tier = excluded.tier`, ownerID, tier)
	if err != nil {
		return fmt.Errorf("failed to set owner tier: %w", err)
	}
	return nil
}

// AppendUsage stores one usage record
func (ss *SQLiteStorage) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO usage_records (credential_id, endpoint, method, status_code, response_time_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CredentialID, rec.Endpoint, rec.Method, rec.StatusCode, rec.ResponseTimeMs, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var cred models.Credential
	var expiresAt, revokedAt, lastUsedAt sql.NullTime

	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.Name, &cred.KeyHash, &cred.Prefix,
		&cred.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
