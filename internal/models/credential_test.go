package models_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gatekeeper/internal/models"
)

func TestGenerateCredentialKey(t *testing.T) {
	key, err := models.GenerateCredentialKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "gk_"), "key must start with gk_")
	assert.Len(t, key, 35, "gk_ (3) + 32 body chars = 35")
	assert.True(t, models.ValidKeyFormat(key), "generated keys must pass format validation")
}

func TestValidKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", "gk_" + strings.Repeat("a", 32), true},
		{"valid mixed", "gk_abcDEF0123456789abcDEF0123456789", true},
		{"empty", "", false},
		{"missing prefix", strings.Repeat("a", 35), false},
		{"wrong prefix", "sk_" + strings.Repeat("a", 32), false},
		{"body too short", "gk_" + strings.Repeat("a", 31), false},
		{"body too long", "gk_" + strings.Repeat("a", 33), false},
		{"non-alphanumeric body", "gk_" + strings.Repeat("a", 31) + "!", false},
		{"prefix only", "gk_", false},
		{"whitespace in body", "gk_" + strings.Repeat("a", 16) + " " + strings.Repeat("a", 15), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.ValidKeyFormat(tt.key))
		})
	}
}

func TestHashCredentialKey(t *testing.T) {
	hash1 := models.HashCredentialKey("gk_abc123")
	hash2 := models.HashCredentialKey("gk_abc123")
	hash3 := models.HashCredentialKey("gk_different")
	assert.Equal(t, hash1, hash2, "same input must produce same hash")
	assert.NotEqual(t, hash1, hash3, "different inputs must produce different hashes")
	assert.Len(t, hash1, 64, "SHA-256 hex is 64 characters")
}

func TestNewCredential(t *testing.T) {
	raw := "gk_testkey1234567890123456789012345"
	cred := models.NewCredential("cred-id", "owner-1", "ci", raw, nil)
	assert.Equal(t, "cred-id", cred.ID)
	assert.Equal(t, "owner-1", cred.OwnerID)
	assert.Equal(t, "ci", cred.Name)
	assert.Equal(t, models.HashCredentialKey(raw), cred.KeyHash)
	assert.Equal(t, raw[:8], cred.Prefix)
	assert.Nil(t, cred.ExpiresAt)
	assert.Nil(t, cred.RevokedAt)
	assert.False(t, cred.CreatedAt.IsZero())

	// short key: prefix equals the key itself when len <= 8
	short := models.NewCredential("id2", "owner-1", "short", "gk_ab", nil)
	assert.Equal(t, "gk_ab", short.Prefix)
}

func TestCredentialLifecycle(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	fresh := &models.Credential{}
	assert.False(t, fresh.Revoked())
	assert.False(t, fresh.ExpiredAt(now))

	revoked := &models.Credential{RevokedAt: &past}
	assert.True(t, revoked.Revoked())

	expired := &models.Credential{ExpiresAt: &past}
	assert.True(t, expired.ExpiredAt(now))

	notYet := &models.Credential{ExpiresAt: &future}
	assert.False(t, notYet.ExpiredAt(now))
}
