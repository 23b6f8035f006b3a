package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsRecordsCounters(t *testing.T) {
	prev := otel.GetMeterProvider()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m := NewMetrics()
	ctx := context.Background()
	m.PublishAttempt(ctx, "TWITTER", OutcomeSuccess)
	m.PublishAttempt(ctx, "TWITTER", OutcomeSuccess)
	m.Connection(ctx, "REDDIT", OutcomeFailure)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	totals := map[string]int64{}
	for _, metric := range rm.ScopeMetrics[0].Metrics {
		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		for _, dp := range sum.DataPoints {
			totals[metric.Name] += dp.Value
		}
	}
	assert.Equal(t, int64(2), totals["crosspost_publish_attempts_total"])
	assert.Equal(t, int64(1), totals["crosspost_oauth_connections_total"])
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PublishAttempt(context.Background(), "FACEBOOK", OutcomeFailure)
		m.Connection(context.Background(), "FACEBOOK", OutcomeSuccess)
	})
}
