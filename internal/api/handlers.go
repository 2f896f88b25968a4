package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/gate"
	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
)

// Handlers contains HTTP handlers for the gatekeeper API
type Handlers struct {
	storage storage.Storage
	quotas  models.QuotaTable
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Storage, quotas models.QuotaTable) *Handlers {
	return &Handlers{
		storage: store,
		quotas:  quotas,
	}
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.storage.Ping(ctx); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	status := http.StatusOK
	if response.Status != models.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

// meResponse is the identity view returned to an authenticated caller.
type meResponse struct {
	CredentialID string           `json:"credential_id"`
	OwnerID      string           `json:"owner_id"`
	Name         string           `json:"name"`
	Prefix       string           `json:"prefix"`
	Tier         string           `json:"tier"`
	Quota        models.TierQuota `json:"quota"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	LastUsedAt   *time.Time       `json:"last_used_at,omitempty"`
}

// Me handles identity introspection requests
// GET /api/v1/me
// Returns the credential and quota the presented key resolved to.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := gate.IdentityFrom(r)
	if identity == nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "authentication required")
		return
	}

	cred := identity.Credential
	h.writeJSONResponse(w, http.StatusOK, meResponse{
		CredentialID: cred.ID,
		OwnerID:      cred.OwnerID,
		Name:         cred.Name,
		Prefix:       cred.Prefix,
		Tier:         identity.Tier,
		Quota:        h.quotas.Lookup(identity.Tier),
		CreatedAt:    cred.CreatedAt,
		ExpiresAt:    cred.ExpiresAt,
		LastUsedAt:   cred.LastUsedAt,
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing to do but log.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
