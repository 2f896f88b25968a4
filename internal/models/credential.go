package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialKeyPrefix is the fixed prefix every issued raw key carries.
const CredentialKeyPrefix = "gk_"

// CredentialKeyBodyLength is the fixed length of the opaque body following the prefix.
const CredentialKeyBodyLength = 32

const keyBodyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Credential represents one issued API key. The raw key value is never
// persisted; only its SHA-256 hex hash and an 8-character display prefix are
// stored. RevokedAt and ExpiresAt make a credential permanently inadmissible
// regardless of quota state.
type Credential struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"key_hash"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// NewCredential creates a new Credential from a raw key string.
func NewCredential(id, ownerID, name, rawKey string, expiresAt *time.Time) *Credential {
	prefix := rawKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return &Credential{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   HashCredentialKey(rawKey),
		Prefix:    prefix,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
}

// GenerateCredentialKey produces a new random raw key in the format
// gk_<32 alphanumeric chars>.
func GenerateCredentialKey() (string, error) {
	var sb strings.Builder
	sb.WriteString(CredentialKeyPrefix)
	max := big.NewInt(int64(len(keyBodyAlphabet)))
	for i := 0; i < CredentialKeyBodyLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate credential key: %w", err)
		}
		sb.WriteByte(keyBodyAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// ValidKeyFormat reports whether a presented raw key matches the issued
// format: the fixed prefix followed by exactly 32 alphanumeric characters.
func ValidKeyFormat(rawKey string) bool {
	if !strings.HasPrefix(rawKey, CredentialKeyPrefix) {
		return false
	}
	body := rawKey[len(CredentialKeyPrefix):]
	if len(body) != CredentialKeyBodyLength {
		return false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// HashCredentialKey computes the SHA-256 hex digest of a raw key.
func HashCredentialKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// NewCredentialID generates a new UUID v4 for use as a Credential ID.
func NewCredentialID() string {
	return uuid.New().String()
}

// Revoked reports whether the credential has been revoked.
func (c *Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// ExpiredAt reports whether the credential's expiry, if set, has passed at
// the given instant.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
