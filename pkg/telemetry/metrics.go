package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricAssessmentsTotal     = "risk_engine_assessments_total"
	MetricAssessmentDuration   = "risk_engine_assessment_duration_ms"
	MetricCacheHitsTotal       = "risk_engine_cache_hits_total"
	MetricCacheMissesTotal     = "risk_engine_cache_misses_total"
	MetricLimitBreachesTotal   = "risk_engine_limit_breaches_total"
	MetricAlertsTotal          = "risk_engine_alerts_total"
	MetricMarginCallsTotal     = "risk_engine_margin_calls_total"
	MetricStressTestsTotal     = "risk_engine_stress_tests_total"
	MetricPortfolioRiskScore   = "risk_engine_portfolio_risk_score"
	MetricPortfolioExposure    = "risk_engine_portfolio_exposure"
	MetricCalculationFallbacks = "risk_engine_calculation_fallbacks_total"
)

// MetricsHolder holds initialized instruments. Recording before InitMetrics is a no-op.
type MetricsHolder struct {
	AssessmentsTotal     metric.Int64Counter
	AssessmentDuration   metric.Float64Histogram
	CacheHitsTotal       metric.Int64Counter
	CacheMissesTotal     metric.Int64Counter
	LimitBreachesTotal   metric.Int64Counter
	AlertsTotal          metric.Int64Counter
	MarginCallsTotal     metric.Int64Counter
	StressTestsTotal     metric.Int64Counter
	CalculationFallbacks metric.Int64Counter
	PortfolioRiskScore   metric.Float64ObservableGauge
	PortfolioExposure    metric.Float64ObservableGauge

	mu           sync.RWMutex
	initialized  bool
	riskScoreMap map[string]float64
	exposureMap  map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			riskScoreMap: make(map[string]float64),
			exposureMap:  make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.AssessmentsTotal, err = meter.Int64Counter(MetricAssessmentsTotal, metric.WithDescription("Risk assessments computed")); err != nil {
		return err
	}
	if m.AssessmentDuration, err = meter.Float64Histogram(MetricAssessmentDuration, metric.WithDescription("Time to compute a risk assessment"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.CacheHitsTotal, err = meter.Int64Counter(MetricCacheHitsTotal, metric.WithDescription("Assessments served from cache")); err != nil {
		return err
	}
	if m.CacheMissesTotal, err = meter.Int64Counter(MetricCacheMissesTotal, metric.WithDescription("Assessment cache misses")); err != nil {
		return err
	}
	if m.LimitBreachesTotal, err = meter.Int64Counter(MetricLimitBreachesTotal, metric.WithDescription("Limits moved to breached")); err != nil {
		return err
	}
	if m.AlertsTotal, err = meter.Int64Counter(MetricAlertsTotal, metric.WithDescription("Risk alerts raised")); err != nil {
		return err
	}
	if m.MarginCallsTotal, err = meter.Int64Counter(MetricMarginCallsTotal, metric.WithDescription("Margin calls issued")); err != nil {
		return err
	}
	if m.StressTestsTotal, err = meter.Int64Counter(MetricStressTestsTotal, metric.WithDescription("Stress tests run")); err != nil {
		return err
	}
	if m.CalculationFallbacks, err = meter.Int64Counter(MetricCalculationFallbacks, metric.WithDescription("Assessments that fell back to the neutral snapshot")); err != nil {
		return err
	}

	m.PortfolioRiskScore, err = meter.Float64ObservableGauge(MetricPortfolioRiskScore, metric.WithDescription("Latest portfolio risk score per user"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for user, val := range m.riskScoreMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("user_id", user)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PortfolioExposure, err = meter.Float64ObservableGauge(MetricPortfolioExposure, metric.WithDescription("Latest total exposure per user"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for user, val := range m.exposureMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("user_id", user)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// RecordAssessment records a freshly computed assessment
func (m *MetricsHolder) RecordAssessment(ctx context.Context, userID string, riskScore, exposure, durationMs float64) {
	m.mu.Lock()
	m.riskScoreMap[userID] = riskScore
	m.exposureMap[userID] = exposure
	m.mu.Unlock()

	if !m.ready() {
		return
	}
	m.AssessmentsTotal.Add(ctx, 1)
	m.AssessmentDuration.Record(ctx, durationMs)
}

// RecordCacheLookup counts a cache hit or miss
func (m *MetricsHolder) RecordCacheLookup(ctx context.Context, hit bool) {
	if !m.ready() {
		return
	}
	if hit {
		m.CacheHitsTotal.Add(ctx, 1)
		return
	}
	m.CacheMissesTotal.Add(ctx, 1)
}

// RecordBreaches counts newly breached limits by type
func (m *MetricsHolder) RecordBreaches(ctx context.Context, limitTypes ...string) {
	if !m.ready() {
		return
	}
	for _, lt := range limitTypes {
		m.LimitBreachesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", lt)))
	}
}

// RecordAlert counts a raised alert
func (m *MetricsHolder) RecordAlert(ctx context.Context, alertType, severity string) {
	if !m.ready() {
		return
	}
	m.AlertsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", alertType),
		attribute.String("severity", severity),
	))
}

// RecordMarginCalls counts issued margin calls
func (m *MetricsHolder) RecordMarginCalls(ctx context.Context, n int) {
	if !m.ready() || n == 0 {
		return
	}
	m.MarginCallsTotal.Add(ctx, int64(n))
}

// RecordStressTest counts a stress test run
func (m *MetricsHolder) RecordStressTest(ctx context.Context, scenario string) {
	if !m.ready() {
		return
	}
	m.StressTestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("scenario", scenario)))
}

// RecordFallback counts an assessment served from the neutral snapshot
func (m *MetricsHolder) RecordFallback(ctx context.Context) {
	if !m.ready() {
		return
	}
	m.CalculationFallbacks.Add(ctx, 1)
}

// GetRiskScores returns a copy of the latest per-user risk scores
func (m *MetricsHolder) GetRiskScores() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.riskScoreMap))
	for k, v := range m.riskScoreMap {
		res[k] = v
	}
	return res
}
