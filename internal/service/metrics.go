package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/maheshrc27/crosspost"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeSkipped  = "skipped"
	OutcomeDeferred = "deferred"
)

// Metrics records publish and connection outcomes on the global meter
// provider. A nil *Metrics records nothing.
type Metrics struct {
	publishAttempts metric.Int64Counter
	connections     metric.Int64Counter
}

func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)

	publishAttempts, err := meter.Int64Counter("crosspost_publish_attempts_total",
		metric.WithDescription("Per-target publish attempts by platform and outcome"))
	if err != nil {
		zap.L().Warn("failed to create publish counter", zap.Error(err))
	}

	connections, err := meter.Int64Counter("crosspost_oauth_connections_total",
		metric.WithDescription("Completed OAuth connection attempts by platform and outcome"))
	if err != nil {
		zap.L().Warn("failed to create connection counter", zap.Error(err))
	}

	return &Metrics{publishAttempts: publishAttempts, connections: connections}
}

func (m *Metrics) PublishAttempt(ctx context.Context, platform, outcome string) {
	if m == nil || m.publishAttempts == nil {
		return
	}
	m.publishAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) Connection(ctx context.Context, platform, outcome string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcome),
	))
}
