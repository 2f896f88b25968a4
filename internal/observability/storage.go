package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("gatekeeper/storage")
	meter := otel.Meter("gatekeeper/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) GetCredentialByHash(ctx context.Context, hash string) (*models.Credential, error) {
	ctx, span := s.startSpan(ctx, "GetCredentialByHash")
	start := time.Now()
	result, err := s.inner.GetCredentialByHash(ctx, hash)
	s.record(ctx, span, "GetCredentialByHash", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	ctx, span := s.startSpan(ctx, "GetCredential", attribute.String("credential_id", id))
	start := time.Now()
	result, err := s.inner.GetCredential(ctx, id)
	s.record(ctx, span, "GetCredential", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateCredential(ctx context.Context, cred *models.Credential) error {
	ctx, span := s.startSpan(ctx, "CreateCredential",
		attribute.String("credential_id", cred.ID),
		attribute.String("owner_id", cred.OwnerID),
	)
	start := time.Now()
	err := s.inner.CreateCredential(ctx, cred)
	s.record(ctx, span, "CreateCredential", start, err)
	return err
}

func (s *InstrumentedStorage) ListCredentials(ctx context.Context) ([]*models.Credential, error) {
	ctx, span := s.startSpan(ctx, "ListCredentials")
	start := time.Now()
	result, err := s.inner.ListCredentials(ctx)
	s.record(ctx, span, "ListCredentials", start, err)
	return result, err
}

func (s *InstrumentedStorage) RevokeCredential(ctx context.Context, id string, at time.Time) error {
	ctx, span := s.startSpan(ctx, "RevokeCredential", attribute.String("credential_id", id))
	start := time.Now()
	err := s.inner.RevokeCredential(ctx, id, at)
	s.record(ctx, span, "RevokeCredential", start, err)
	return err
}

func (s *InstrumentedStorage) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	ctx, span := s.startSpan(ctx, "TouchLastUsed", attribute.String("credential_id", id))
	start := time.Now()
	err := s.inner.TouchLastUsed(ctx, id, at)
	s.record(ctx, span, "TouchLastUsed", start, err)
	return err
}

func (s *InstrumentedStorage) GetOwnerTier(ctx context.Context, ownerID string) (string, error) {
	ctx, span := s.startSpan(ctx, "GetOwnerTier", attribute.String("owner_id", ownerID))
	start := time.Now()
	result, err := s.inner.GetOwnerTier(ctx, ownerID)
	s.record(ctx, span, "GetOwnerTier", start, err)
	return result, err
}

func (s *InstrumentedStorage) SetOwnerTier(ctx context.Context, ownerID, tier string) error {
	ctx, span := s.startSpan(ctx, "SetOwnerTier",
		attribute.String("owner_id", ownerID),
		attribute.String("tier", tier),
	)
	start := time.Now()
	err := s.inner.SetOwnerTier(ctx, ownerID, tier)
	s.record(ctx, span, "SetOwnerTier", start, err)
	return err
}

func (s *InstrumentedStorage) AppendUsage(ctx context.Context, rec *models.UsageRecord) error {
	ctx, span := s.startSpan(ctx, "AppendUsage",
		attribute.String("credential_id", rec.CredentialID),
		attribute.String("endpoint", rec.Endpoint),
	)
	start := time.Now()
	err := s.inner.AppendUsage(ctx, rec)
	s.record(ctx, span, "AppendUsage", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
