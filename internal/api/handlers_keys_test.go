package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
)

func (ts *testServer) adminRequest(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testBootstrapKey)
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func TestAdminKeys_RequireBootstrapKey(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.request("GET", "/api/v1/admin/keys", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request("GET", "/api/v1/admin/keys", "gk_wrongkey0000000000000000000000000")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminKeys_DisabledWithoutBootstrapKey(t *testing.T) {
	ts := newTestServer(t, func(cfg *models.Config) {
		cfg.Security.BootstrapKey = ""
	})

	rr := ts.request("GET", "/api/v1/admin/keys", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminKeys_CreateAndList(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.adminRequest(t, "POST", "/api/v1/admin/keys", createCredentialRequest{
		OwnerID: "owner-1",
		Name:    "ci pipeline",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created createCredentialResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "owner-1", created.OwnerID)
	assert.True(t, models.ValidKeyFormat(created.Key), "returned raw key must be usable")
	assert.NotEmpty(t, created.Prefix)

	rr = ts.adminRequest(t, "GET", "/api/v1/admin/keys", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var listed []credentialResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	// The raw key and its hash never appear in list responses.
	assert.NotContains(t, rr.Body.String(), created.Key)
	assert.NotContains(t, rr.Body.String(), models.HashCredentialKey(created.Key))
}

func TestAdminKeys_CreatedKeyWorks(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.adminRequest(t, "POST", "/api/v1/admin/keys", createCredentialRequest{
		OwnerID: "owner-1",
		Name:    "ci pipeline",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created createCredentialResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	rr = ts.request("GET", "/api/v1/me", created.Key)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminKeys_CreateValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		req  createCredentialRequest
	}{
		{"missing owner", createCredentialRequest{Name: "x"}},
		{"missing name", createCredentialRequest{OwnerID: "owner-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.adminRequest(t, "POST", "/api/v1/admin/keys", tt.req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestAdminKeys_CreateRejectsPastExpiry(t *testing.T) {
	ts := newTestServer(t, nil)

	past := time.Now().Add(-time.Hour)
	rr := ts.adminRequest(t, "POST", "/api/v1/admin/keys", createCredentialRequest{
		OwnerID:   "owner-1",
		Name:      "stale",
		ExpiresAt: &past,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminKeys_Revoke(t *testing.T) {
	ts := newTestServer(t, nil)
	rawKey := ts.seedKey(t, "owner-1", models.TierPro)

	creds, err := ts.store.ListCredentials(context.Background())
	require.NoError(t, err)
	require.Len(t, creds, 1)

	rr := ts.adminRequest(t, "DELETE", "/api/v1/admin/keys/"+creds[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// The key stops working immediately.
	rr = ts.request("GET", "/api/v1/me", rawKey)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Revoking again is a no-op, not an error.
	rr = ts.adminRequest(t, "DELETE", "/api/v1/admin/keys/"+creds[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAdminKeys_RevokeUnknown(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.adminRequest(t, "DELETE", "/api/v1/admin/keys/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminKeys_Get(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedKey(t, "owner-1", "")

	creds, err := ts.store.ListCredentials(context.Background())
	require.NoError(t, err)

	rr := ts.adminRequest(t, "GET", "/api/v1/admin/keys/"+creds[0].ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp credentialResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, creds[0].ID, resp.ID)
}

func TestAdminTiers_Set(t *testing.T) {
	ts := newTestServer(t, nil)
	rawKey := ts.seedKey(t, "owner-1", "")

	rr := ts.adminRequest(t, "PUT", "/api/v1/admin/tiers/owner-1", setTierRequest{Tier: models.TierEnterprise})
	assert.Equal(t, http.StatusOK, rr.Code)

	// Tier changes take effect on the next request.
	rr = ts.request("GET", "/api/v1/me", rawKey)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "600", rr.Header().Get("X-RateLimit-Limit"))
}

func TestAdminTiers_RejectsUnknownTier(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.adminRequest(t, "PUT", "/api/v1/admin/tiers/owner-1", setTierRequest{Tier: "platinum"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
