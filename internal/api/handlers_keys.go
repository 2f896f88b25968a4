package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// createCredentialRequest is the request body for POST /api/v1/admin/keys.
type createCredentialRequest struct {
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// createCredentialResponse includes the raw key — returned exactly once.
type createCredentialResponse struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// credentialResponse is the metadata-only view (no raw key, no hash).
type credentialResponse struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// setTierRequest is the request body for PUT /api/v1/admin/tiers/{owner_id}.
type setTierRequest struct {
	Tier string `json:"tier"`
}

func credentialToResponse(c *models.Credential) credentialResponse {
	return credentialResponse{
		ID:         c.ID,
		OwnerID:    c.OwnerID,
		Name:       c.Name,
		Prefix:     c.Prefix,
		CreatedAt:  c.CreatedAt,
		ExpiresAt:  c.ExpiresAt,
		RevokedAt:  c.RevokedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

// ListCredentials handles GET /api/v1/admin/keys
func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.storage.ListCredentials(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to list credentials")
		return
	}
	resp := make([]credentialResponse, len(creds))
	for i, c := range creds {
		resp[i] = credentialToResponse(c)
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// CreateCredential handles POST /api/v1/admin/keys
func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "owner_id is required")
		return
	}
	if req.Name == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "name is required")
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "expires_at must be in the future")
		return
	}

	rawKey, err := models.GenerateCredentialKey()
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to generate key")
		return
	}

	cred := models.NewCredential(models.NewCredentialID(), req.OwnerID, req.Name, rawKey, req.ExpiresAt)
	if err := h.storage.CreateCredential(r.Context(), cred); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to create credential")
		return
	}

	slog.Info("credential created",
		"event", "security_audit",
		"action", "create",
		"credential_id", cred.ID,
		"owner_id", cred.OwnerID,
		"prefix", cred.Prefix,
	)

	h.writeJSONResponse(w, http.StatusCreated, createCredentialResponse{
		ID:        cred.ID,
		OwnerID:   cred.OwnerID,
		Name:      cred.Name,
		Key:       rawKey,
		Prefix:    cred.Prefix,
		CreatedAt: cred.CreatedAt,
		ExpiresAt: cred.ExpiresAt,
	})
}

// GetCredential handles GET /api/v1/admin/keys/{id}
func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cred, err := h.storage.GetCredential(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "credential not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to fetch credential")
		}
		return
	}
	h.writeJSONResponse(w, http.StatusOK, credentialToResponse(cred))
}

// RevokeCredential handles DELETE /api/v1/admin/keys/{id}
// Revocation is permanent; repeating it is a no-op.
func (h *Handlers) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.RevokeCredential(r.Context(), id, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "credential not found")
		} else {
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to revoke credential")
		}
		return
	}

	slog.Info("credential revoked",
		"event", "security_audit",
		"action", "revoke",
		"credential_id", id,
	)

	w.WriteHeader(http.StatusNoContent)
}

// SetOwnerTier handles PUT /api/v1/admin/tiers/{owner_id}
func (h *Handlers) SetOwnerTier(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["owner_id"]

	var req setTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if _, ok := h.quotas[req.Tier]; !ok {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "unknown tier")
		return
	}

	if err := h.storage.SetOwnerTier(r.Context(), ownerID, req.Tier); err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "failed to set tier")
		return
	}

	slog.Info("owner tier changed",
		"event", "security_audit",
		"action", "set_tier",
		"owner_id", ownerID,
		"tier", req.Tier,
	)

	h.writeJSONResponse(w, http.StatusOK, map[string]string{
		"owner_id": ownerID,
		"tier":     req.Tier,
	})
}
