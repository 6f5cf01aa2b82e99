package metrics

import "github.com/prometheus/client_golang/prometheus"

// MetricsGauge is the gauge subset used by packages that must not import
// prometheus directly.
type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow method sets the prediction
// service, the alert hub and the history recorder depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc(model string) {
	w.m.Predictions.WithLabelValues(model).Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *MetricsWrapper) InvalidRequestsInc() {
	w.m.InvalidRequests.Inc()
}

func (w *MetricsWrapper) FallbackUseInc() {
	w.m.FallbackUse.Inc()
}

func (w *MetricsWrapper) ExplanationFailuresInc() {
	w.m.ExplanationFailures.Inc()
}

func (w *MetricsWrapper) LatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

func (w *MetricsWrapper) ProbabilityObserve(p float64) {
	w.m.ChurnProbability.Observe(p)
}

func (w *MetricsWrapper) CacheHitInc() {
	w.m.CacheHits.Inc()
}

func (w *MetricsWrapper) CacheMissInc() {
	w.m.CacheMisses.Inc()
}

func (w *MetricsWrapper) ModelReloadsInc() {
	w.m.ModelReloads.Inc()
}

func (w *MetricsWrapper) HighRiskInc() {
	w.m.HighRiskTotal.Inc()
}

func (w *MetricsWrapper) ScoresRecordedInc() {
	w.m.ScoresRecorded.Inc()
}

func (w *MetricsWrapper) StorageFailuresInc() {
	w.m.StorageFailures.Inc()
}

func (w *MetricsWrapper) AlertClients() MetricsGauge {
	return &GaugeWrapper{w.m.AlertClients}
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
