package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AdmissionMetrics counts gate admission decisions, labelled by tier for
// admitted requests and by denial reason for rejected ones.
type AdmissionMetrics struct {
	admitted metric.Int64Counter
	denied   metric.Int64Counter
}

// NewAdmissionMetrics registers the admission counters on the global meter.
func NewAdmissionMetrics() (*AdmissionMetrics, error) {
	meter := otel.Meter("gatekeeper/gate")

	admitted, err := meter.Int64Counter(
		"gate.requests.admitted",
		metric.WithDescription("Number of requests admitted through the gate"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	denied, err := meter.Int64Counter(
		"gate.requests.denied",
		metric.WithDescription("Number of requests denied by the gate"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &AdmissionMetrics{admitted: admitted, denied: denied}, nil
}

// ObserveAdmission records one gate decision.
func (m *AdmissionMetrics) ObserveAdmission(ctx context.Context, tier string, allowed bool, reason string) {
	if allowed {
		m.admitted.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
		return
	}
	m.denied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("reason", reason),
	))
}
