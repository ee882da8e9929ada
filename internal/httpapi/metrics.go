package httpapi

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// apiMetrics holds the OTEL instruments for the CPI surface.
type apiMetrics struct {
	requests       metric.Int64Counter
	latency        metric.Float64Histogram
	disclosedBytes metric.Int64Histogram
	denials        metric.Int64Counter
}

// newAPIMetrics creates the instruments. A nil meter yields a no-op
// recorder so the server runs without telemetry.
func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	if meter == nil {
		return &apiMetrics{}, nil
	}

	requests, err := meter.Int64Counter("synm.http.requests",
		metric.WithDescription("CPI requests by route and status"))
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("synm.http.latency",
		metric.WithDescription("Request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	disclosedBytes, err := meter.Int64Histogram("synm.context.disclosed_bytes",
		metric.WithDescription("Bytes of sanitized context disclosed per call"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	denials, err := meter.Int64Counter("synm.context.denials",
		metric.WithDescription("Context calls denied outright, by reason"))
	if err != nil {
		return nil, err
	}

	return &apiMetrics{
		requests:       requests,
		latency:        latency,
		disclosedBytes: disclosedBytes,
		denials:        denials,
	}, nil
}

func (m *apiMetrics) recordRequest(ctx context.Context, route string, status int, latency time.Duration) {
	if m.requests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(latency.Milliseconds()), attrs)
}

func (m *apiMetrics) recordDisclosure(ctx context.Context, byteSize int) {
	if m.disclosedBytes == nil {
		return
	}
	m.disclosedBytes.Record(ctx, int64(byteSize))
}

func (m *apiMetrics) recordDenial(ctx context.Context, reason string) {
	if m.denials == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
