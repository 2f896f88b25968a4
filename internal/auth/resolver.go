package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// Identity is the result of a successful key resolution: the credential that
// presented the key and its owner's effective tier.
type Identity struct {
	Credential *models.Credential
	Tier       string
}

// Resolver authenticates raw API keys against the credential store.
type Resolver struct {
	store  storage.Storage
	quotas models.QuotaTable
	logger *slog.Logger

	now func() time.Time
}

// NewResolver builds a resolver over the given store and quota table.
func NewResolver(store storage.Storage, quotas models.QuotaTable, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		quotas: quotas,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve checks a raw key through the full credential lifecycle and returns
// the identity it maps to. Checks run in a fixed order and resolution stops
// at the first failure: format, existence, revocation, expiry, tier access.
//
// A storage failure is reported as an invalid key: when the store cannot be
// consulted, no request is admitted. The underlying error is logged at error
// level so operators can tell an outage from an attack.
func (r *Resolver) Resolve(ctx context.Context, rawKey string) (*Identity, *Error) {
	if !models.ValidKeyFormat(rawKey) {
		return nil, &Error{Code: CodeInvalidFormat, Message: "API key is malformed"}
	}

	hash := models.HashCredentialKey(rawKey)
	cred, err := r.store.GetCredentialByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Error("credential lookup failed, rejecting request",
				"error", err)
		}
		return nil, &Error{Code: CodeInvalidKey, Message: "API key is not recognized"}
	}

	if cred.Revoked() {
		return nil, &Error{Code: CodeRevoked, Message: "API key has been revoked"}
	}

	now := r.now()
	if cred.ExpiredAt(now) {
		return nil, &Error{Code: CodeExpired, Message: "API key has expired"}
	}

	tier, err := r.store.GetOwnerTier(ctx, cred.OwnerID)
	if err != nil {
		r.logger.Error("tier lookup failed, rejecting request",
			"credential_id", cred.ID,
			"owner_id", cred.OwnerID,
			"error", err)
		return nil, &Error{Code: CodeInvalidKey, Message: "API key is not recognized"}
	}

	if r.quotas.Lookup(tier).AllZero() {
		return nil, &Error{Code: CodeTierInsufficient, Message: "account tier does not permit API access"}
	}

	// Last-used tracking is observability, not auth. It runs detached from
	// the request so a slow store write never delays admission.
	go func(id string, at time.Time) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.TouchLastUsed(touchCtx, id, at); err != nil {
			r.logger.Warn("failed to update credential last-used time",
				"credential_id", id,
				"error", err)
		}
	}(cred.ID, now)

	return &Identity{Credential: cred, Tier: tier}, nil
}
