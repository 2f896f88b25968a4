package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

func newTestResolver(t *testing.T) (*Resolver, *storage.MemoryStorage) {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewResolver(store, models.DefaultQuotaTable(), slog.Default()), store
}

func seedCredential(t *testing.T, store *storage.MemoryStorage, ownerID string, expiresAt *time.Time) (string, *models.Credential) {
	t.Helper()
	rawKey, err := models.GenerateCredentialKey()
	require.NoError(t, err)
	cred := models.NewCredential(models.NewCredentialID(), ownerID, "test key", rawKey, expiresAt)
	require.NoError(t, store.CreateCredential(context.Background(), cred))
	return rawKey, cred
}

func TestResolver_Resolve_ValidKey(t *testing.T) {
	resolver, store := newTestResolver(t)
	rawKey, cred := seedCredential(t, store, "owner-1", nil)

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	require.Nil(t, authErr)
	require.NotNil(t, identity)
	assert.Equal(t, cred.ID, identity.Credential.ID)
	assert.Equal(t, models.TierFree, identity.Tier, "owners without an explicit tier default to free")
}

func TestResolver_Resolve_ExplicitTier(t *testing.T) {
	resolver, store := newTestResolver(t)
	rawKey, _ := seedCredential(t, store, "owner-1", nil)
	require.NoError(t, store.SetOwnerTier(context.Background(), "owner-1", models.TierPro))

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	require.Nil(t, authErr)
	assert.Equal(t, models.TierPro, identity.Tier)
}

func TestResolver_Resolve_MalformedKey(t *testing.T) {
	resolver, _ := newTestResolver(t)

	tests := []struct {
		name   string
		rawKey string
	}{
		{"empty", ""},
		{"wrong prefix", "sk_abcdefghijklmnopqrstuvwxyz123456"},
		{"too short", "gk_abc123"},
		{"too long", "gk_abcdefghijklmnopqrstuvwxyz1234567890"},
		{"invalid characters", "gk_abcdefghijklmnopqrstuvwxy!@#$%^"},
		{"prefix only", "gk_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, authErr := resolver.Resolve(context.Background(), tt.rawKey)
			assert.Nil(t, identity)
			require.NotNil(t, authErr)
			assert.Equal(t, CodeInvalidFormat, authErr.Code)
			assert.Equal(t, http.StatusUnauthorized, authErr.HTTPStatus())
		})
	}
}

func TestResolver_Resolve_UnknownKey(t *testing.T) {
	resolver, _ := newTestResolver(t)

	rawKey, err := models.GenerateCredentialKey()
	require.NoError(t, err)

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	assert.Nil(t, identity)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidKey, authErr.Code)
	assert.Equal(t, http.StatusUnauthorized, authErr.HTTPStatus())
}

func TestResolver_Resolve_RevokedKey(t *testing.T) {
	resolver, store := newTestResolver(t)
	rawKey, cred := seedCredential(t, store, "owner-1", nil)
	require.NoError(t, store.RevokeCredential(context.Background(), cred.ID, time.Now()))

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	assert.Nil(t, identity)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeRevoked, authErr.Code)
	assert.Equal(t, http.StatusUnauthorized, authErr.HTTPStatus())
}

func TestResolver_Resolve_ExpiredKey(t *testing.T) {
	resolver, store := newTestResolver(t)
	past := time.Now().Add(-time.Hour)
	rawKey, _ := seedCredential(t, store, "owner-1", &past)

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	assert.Nil(t, identity)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeExpired, authErr.Code)
}

func TestResolver_Resolve_RevokedTakesPrecedenceOverExpired(t *testing.T) {
	resolver, store := newTestResolver(t)
	past := time.Now().Add(-time.Hour)
	rawKey, cred := seedCredential(t, store, "owner-1", &past)
	require.NoError(t, store.RevokeCredential(context.Background(), cred.ID, time.Now()))

	_, authErr := resolver.Resolve(context.Background(), rawKey)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeRevoked, authErr.Code)
}

func TestResolver_Resolve_TierWithoutAccess(t *testing.T) {
	resolver, store := newTestResolver(t)
	rawKey, _ := seedCredential(t, store, "owner-1", nil)
	require.NoError(t, store.SetOwnerTier(context.Background(), "owner-1", models.TierNone))

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	assert.Nil(t, identity)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeTierInsufficient, authErr.Code)
	assert.Equal(t, http.StatusForbidden, authErr.HTTPStatus())
}

func TestResolver_Resolve_FutureExpiryStillValid(t *testing.T) {
	resolver, store := newTestResolver(t)
	future := time.Now().Add(time.Hour)
	rawKey, _ := seedCredential(t, store, "owner-1", &future)

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	require.Nil(t, authErr)
	assert.NotNil(t, identity)
}

func TestResolver_Resolve_TouchesLastUsed(t *testing.T) {
	resolver, store := newTestResolver(t)
	rawKey, cred := seedCredential(t, store, "owner-1", nil)

	_, authErr := resolver.Resolve(context.Background(), rawKey)
	require.Nil(t, authErr)

	require.Eventually(t, func() bool {
		stored, err := store.GetCredential(context.Background(), cred.ID)
		return err == nil && stored.LastUsedAt != nil
	}, time.Second, 10*time.Millisecond, "last-used time should be recorded asynchronously")
}

// failingStore simulates a storage outage for lookups.
type failingStore struct {
	*storage.MemoryStorage
}

func (f *failingStore) GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_Resolve_StorageFailureFailsClosed(t *testing.T) {
	mem, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	defer mem.Close()

	resolver := NewResolver(&failingStore{mem}, models.DefaultQuotaTable(), slog.Default())

	rawKey, err := models.GenerateCredentialKey()
	require.NoError(t, err)

	identity, authErr := resolver.Resolve(context.Background(), rawKey)
	assert.Nil(t, identity)
	require.NotNil(t, authErr)
	assert.Equal(t, CodeInvalidKey, authErr.Code, "a store outage must not admit requests")
}
