package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/hanko-field/ledgersync"

// Metrics holds the sync and ledger instruments.
type Metrics struct {
	syncOutcomes   metric.Int64Counter
	syncDuration   metric.Float64Histogram
	ledgerRequests metric.Int64Counter
	ledgerLatency  metric.Float64Histogram
	authChecks     metric.Int64Counter
}

// MetricsOption customises Metrics.
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	meter metric.Meter
}

// WithMeter overrides the meter used to create instruments.
func WithMeter(m metric.Meter) MetricsOption {
	return func(o *metricsOptions) {
		if m != nil {
			o.meter = m
		}
	}
}

// NewMetrics registers instruments on the global meter provider unless WithMeter is supplied.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	options := metricsOptions{meter: otel.GetMeterProvider().Meter(metricNamespace)}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	meter := options.meter

	outcomes, err := meter.Int64Counter("ledgersync.sync.outcomes",
		metric.WithDescription("Order sync attempts by gateway, outcome and failure kind"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("ledgersync.sync.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("End-to-end order sync latency"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter("ledgersync.ledger.requests",
		metric.WithDescription("Ledger GraphQL requests by operation and status"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("ledgersync.ledger.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Ledger GraphQL request latency"))
	if err != nil {
		return nil, err
	}

	checks, err := meter.Int64Counter("ledgersync.auth.verifications",
		metric.WithDescription("Caller verifications by mechanism, result and reason"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		syncOutcomes:   outcomes,
		syncDuration:   duration,
		ledgerRequests: requests,
		ledgerLatency:  latency,
		authChecks:     checks,
	}, nil
}

// RecordSync counts one sync attempt. kind is empty for successful syncs.
func (m *Metrics) RecordSync(ctx context.Context, gateway, outcome, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("gateway", gateway),
		attribute.String("outcome", outcome),
		attribute.String("kind", kind),
	)
	m.syncOutcomes.Add(ctx, 1, attrs)
	m.syncDuration.Record(ctx, millis(elapsed), attrs)
}

// ObserveLedgerRequest matches ledger.Observer.
func (m *Metrics) ObserveLedgerRequest(ctx context.Context, operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.ledgerRequests.Add(ctx, 1, attrs)
	m.ledgerLatency.Record(ctx, millis(elapsed), attrs)
}

// RecordVerification matches auth.MetricsRecorder.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, _ time.Duration) {
	if m == nil {
		return
	}
	m.authChecks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
