package otelhelper

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName scopes the tracer and meter of this module.
const InstrumentationName = "github.com/dukex/refund-approvals"

// Metrics holds the counters recorded while evaluating rules and moving approvals.
type Metrics struct {
	ConfigErrors       metric.Int64Counter
	Escalations        metric.Int64Counter
	EscalationFailures metric.Int64Counter
	Decisions          metric.Int64Counter
}

// NewMetrics creates the counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	configErrors, err := meter.Int64Counter("approvals.config_errors",
		metric.WithDescription("Malformed rule or workflow conditions encountered during evaluation"))
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter("approvals.escalations",
		metric.WithDescription("Approvals escalated or resolved by timeout"))
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("approvals.escalation_failures",
		metric.WithDescription("Approvals that failed to escalate in a batch"))
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter("approvals.decisions",
		metric.WithDescription("Approver decisions recorded"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ConfigErrors:       configErrors,
		Escalations:        escalations,
		EscalationFailures: failures,
		Decisions:          decisions,
	}, nil
}

// DefaultMetrics creates the counters on the global meter provider, falling back to no-op
// instruments if the provider rejects them.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(InstrumentationName))
	if err != nil {
		slog.Warn("failed to create metric instruments, using no-op", "error", err)

		m, _ = NewMetrics(noop.NewMeterProvider().Meter(InstrumentationName))
	}

	return m
}

// Inc adds one to counter with the given attributes.
func Inc(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
