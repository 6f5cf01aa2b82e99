// Package metrics provides Prometheus metrics collection for the DropIQ churn
// service. It defines the prediction, explanation, alerting and training
// metrics exposed via the /metrics endpoint of the prediction server and the
// textfile written by the training job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dropiq"

// Metrics holds all Prometheus metrics of the churn service.
type Metrics struct {
	// Prediction metrics
	Predictions         *prometheus.CounterVec // Predictions served, by model kind
	PredictionFailures  prometheus.Counter     // Predictions that returned an error
	InvalidRequests     prometheus.Counter     // Requests rejected as client input errors
	FallbackUse         prometheus.Counter     // Predictions served by the constant fallback
	ExplanationFailures prometheus.Counter     // Explanations that failed for a tree model
	PredictionLatency   prometheus.Histogram   // End-to-end prediction latency in seconds
	ChurnProbability    prometheus.Histogram   // Distribution of predicted churn probabilities
	CacheHits           prometheus.Counter     // Prediction cache hits
	CacheMisses         prometheus.Counter     // Prediction cache misses
	ModelReloads        prometheus.Counter     // Artifact version changes observed

	// Alerting and history
	HighRiskTotal   prometheus.Counter // Predictions at or above the alert threshold
	AlertClients    prometheus.Gauge   // Connected alert websocket clients
	ScoresRecorded  prometheus.Counter // Score records written to the history store
	StorageFailures prometheus.Counter // Failed history writes

	// Training metrics
	TrainingDuration prometheus.Gauge     // Duration of the last training run in seconds
	TrainingRows     *prometheus.GaugeVec // Rows in each partition of the last run
	CandidateF1      *prometheus.GaugeVec // Hold-out F1 per candidate
	CandidateAUC     *prometheus.GaugeVec // Hold-out ROC AUC per candidate
	SelectedModel    *prometheus.GaugeVec // 1 for the selected candidate kind
	Importance       *prometheus.GaugeVec // Mean absolute attribution per feature
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing
// and for the training job's textfile output).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of churn predictions served",
		}, []string{"model"}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Total number of failed churn predictions",
		}),
		InvalidRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_requests_total",
			Help:      "Total number of prediction requests rejected as invalid input",
		}),
		FallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_use_total",
			Help:      "Total number of predictions served by the constant fallback",
		}),
		ExplanationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanation_failures_total",
			Help:      "Total number of failed explanations for tree models",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_latency_seconds",
			Help:      "Prediction latency in seconds (end-to-end, including explanation)",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ChurnProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "churn_probability",
			Help:      "Distribution of predicted churn probabilities",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_hits_total",
			Help:      "Total number of prediction cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_misses_total",
			Help:      "Total number of prediction cache misses",
		}),
		ModelReloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Total number of model artifact version changes observed",
		}),
		HighRiskTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_risk_predictions_total",
			Help:      "Total number of predictions at or above the high-risk threshold",
		}),
		AlertClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alert_clients",
			Help:      "Number of connected alert websocket clients",
		}),
		ScoresRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_recorded_total",
			Help:      "Total number of churn scores written to history",
		}),
		StorageFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Total number of failed history writes",
		}),
		TrainingDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_duration_seconds",
			Help:      "Duration of the last training run in seconds",
		}),
		TrainingRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_rows",
			Help:      "Rows in each partition of the last training run",
		}, []string{"partition"}),
		CandidateF1: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_f1",
			Help:      "Hold-out F1 score of each training candidate",
		}, []string{"model"}),
		CandidateAUC: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidate_auc",
			Help:      "Hold-out ROC AUC of each training candidate",
		}, []string{"model"}),
		SelectedModel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_model",
			Help:      "Set to 1 for the model kind selected by the last training run",
		}, []string{"model"}),
		Importance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feature_importance",
			Help:      "Mean absolute attribution of each feature on the hold-out partition",
		}, []string{"feature"}),
	}
}

// CandidateScore is the hold-out evaluation of one training candidate.
type CandidateScore struct {
	Model string
	F1    float64
	AUC   float64
}

// RecordTraining publishes the outcome of a training run.
func (m *Metrics) RecordTraining(seconds float64, trainRows, testRows int, candidates []CandidateScore, selected string) {
	m.TrainingDuration.Set(seconds)
	m.TrainingRows.WithLabelValues("train").Set(float64(trainRows))
	m.TrainingRows.WithLabelValues("test").Set(float64(testRows))
	for _, c := range candidates {
		m.CandidateF1.WithLabelValues(c.Model).Set(c.F1)
		m.CandidateAUC.WithLabelValues(c.Model).Set(c.AUC)
		value := 0.0
		if c.Model == selected {
			value = 1
		}
		m.SelectedModel.WithLabelValues(c.Model).Set(value)
	}
}

// RecordImportance publishes the global importance of each feature.
func (m *Metrics) RecordImportance(importance map[string]float64) {
	for feature, v := range importance {
		m.Importance.WithLabelValues(feature).Set(v)
	}
}
