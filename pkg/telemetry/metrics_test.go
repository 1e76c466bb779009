package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetricsHolder_RecordBeforeInitIsNoop(t *testing.T) {
	m := &MetricsHolder{riskScoreMap: map[string]float64{}, exposureMap: map[string]float64{}}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordAssessment(ctx, "u1", 55, 1000, 3)
		m.RecordCacheLookup(ctx, true)
		m.RecordBreaches(ctx, "exposure")
		m.RecordAlert(ctx, "exposure_limit", "error")
		m.RecordMarginCalls(ctx, 2)
		m.RecordStressTest(ctx, "market_crash")
		m.RecordFallback(ctx)
	})
	assert.Equal(t, 55.0, m.GetRiskScores()["u1"])
}

func TestMetricsHolder_Collect(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m := &MetricsHolder{riskScoreMap: map[string]float64{}, exposureMap: map[string]float64{}}
	require.NoError(t, m.InitMetrics(mp.Meter("test")))

	ctx := context.Background()
	m.RecordAssessment(ctx, "u1", 62.6, 46000, 1.5)
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheLookup(ctx, true)
	m.RecordBreaches(ctx, "exposure", "leverage")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	assert.True(t, names[MetricAssessmentsTotal])
	assert.True(t, names[MetricCacheHitsTotal])
	assert.True(t, names[MetricCacheMissesTotal])
	assert.True(t, names[MetricLimitBreachesTotal])
	assert.True(t, names[MetricPortfolioRiskScore])
}
