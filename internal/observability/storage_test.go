package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
)

func setupTestProvider(t *testing.T) *Provider {
	t.Helper()
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{
		ServiceName: "test",
		Tracing: models.TracingConfig{
			Enabled:    true,
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	return provider
}

func setupMemoryStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewInstrumentedStorage(t *testing.T) {
	_ = setupTestProvider(t)
	inner := setupMemoryStorage(t)

	instrumented, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)
	assert.NotNil(t, instrumented)
}

func TestInstrumentedStorage_Ping(t *testing.T) {
	_ = setupTestProvider(t)
	inner := setupMemoryStorage(t)

	instrumented, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)

	err = instrumented.Ping(context.Background())
	assert.NoError(t, err)
}

func TestInstrumentedStorage_CredentialOperations(t *testing.T) {
	_ = setupTestProvider(t)
	inner := setupMemoryStorage(t)

	instrumented, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)

	ctx := context.Background()

	rawKey, err := models.GenerateCredentialKey()
	require.NoError(t, err)
	cred := models.NewCredential(models.NewCredentialID(), "owner-1", "test key", rawKey, nil)

	err = instrumented.CreateCredential(ctx, cred)
	assert.NoError(t, err)

	byHash, err := instrumented.GetCredentialByHash(ctx, cred.KeyHash)
	assert.NoError(t, err)
	assert.Equal(t, cred.ID, byHash.ID)

	byID, err := instrumented.GetCredential(ctx, cred.ID)
	assert.NoError(t, err)
	assert.Equal(t, cred.ID, byID.ID)

	creds, err := instrumented.ListCredentials(ctx)
	assert.NoError(t, err)
	assert.Len(t, creds, 1)

	err = instrumented.TouchLastUsed(ctx, cred.ID, time.Now())
	assert.NoError(t, err)

	err = instrumented.RevokeCredential(ctx, cred.ID, time.Now())
	assert.NoError(t, err)

	revoked, err := instrumented.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.True(t, revoked.Revoked())
}

func TestInstrumentedStorage_TierAndUsage(t *testing.T) {
	_ = setupTestProvider(t)
	inner := setupMemoryStorage(t)

	instrumented, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)

	ctx := context.Background()

	tier, err := instrumented.GetOwnerTier(ctx, "owner-1")
	assert.NoError(t, err)
	assert.Equal(t, models.TierFree, tier)

	err = instrumented.SetOwnerTier(ctx, "owner-1", models.TierPro)
	assert.NoError(t, err)

	tier, err = instrumented.GetOwnerTier(ctx, "owner-1")
	assert.NoError(t, err)
	assert.Equal(t, models.TierPro, tier)

	err = instrumented.AppendUsage(ctx, &models.UsageRecord{
		CredentialID: "cred-1",
		Endpoint:     "/api/v1/me",
		Method:       "GET",
		StatusCode:   200,
		RecordedAt:   time.Now(),
	})
	assert.NoError(t, err)
}

func TestInstrumentedStorage_ErrorPath(t *testing.T) {
	_ = setupTestProvider(t)
	inner := setupMemoryStorage(t)

	instrumented, err := NewInstrumentedStorage(inner)
	require.NoError(t, err)

	_, err = instrumented.GetCredential(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMetricsServer(t *testing.T) {
	provider := setupTestProvider(t)

	server := NewMetricsServer(0, "/metrics", provider)
	require.NotNil(t, server)

	err := server.Shutdown(context.Background())
	assert.NoError(t, err)
}
