// Package service implements the DropIQ prediction path: it validates a
// feature vector, scores it with the current model artifact (or the constant
// fallback), thresholds the probability into a label and attaches the
// per-feature explanation.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dropiq-ml/internal/artifact"
	"dropiq-ml/internal/common"
	"dropiq-ml/internal/explain"
	"dropiq-ml/internal/ml"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// ErrClientInput marks requests rejected because of the caller's input.
var ErrClientInput = errors.New("invalid client input")

// MetricsInterface defines the metrics methods needed by the service
type MetricsInterface interface {
	PredictionsInc(model string)
	PredictionFailuresInc()
	InvalidRequestsInc()
	FallbackUseInc()
	ExplanationFailuresInc()
	LatencyObserve(seconds float64)
	ProbabilityObserve(p float64)
	CacheHitInc()
	CacheMissInc()
	ModelReloadsInc()
}

// ModelSource supplies the current model. *artifact.Store satisfies it.
type ModelSource interface {
	Snapshot() (*artifact.Snapshot, error)
	Report() (string, error)
}

// HealthStatus is the liveness response.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// PredictionResult is the outcome of one prediction. Explanation is nil when
// the serving model cannot be explained.
type PredictionResult struct {
	Probability  float64              `json:"probability"`
	Label        int                  `json:"label"`
	Explanation  *explain.Explanation `json:"shap_explanation"`
	ModelKind    ml.Kind              `json:"-"`
	ModelVersion string               `json:"-"`
}

// ModelInfo describes the model currently being served.
type ModelInfo struct {
	Kind     ml.Kind   `json:"kind"`
	Version  string    `json:"version"`
	Fallback bool      `json:"fallback"`
	LoadedAt time.Time `json:"loaded_at"`
	Features []string  `json:"features"`
	Report   string    `json:"report,omitempty"`
}

// Config tunes the service.
type Config struct {
	// CacheSize bounds the prediction result cache; 0 disables it.
	CacheSize int
}

type cacheKey struct {
	version  string
	features [common.NumFeatures]float64
}

// Service is safe for concurrent use.
type Service struct {
	source  ModelSource
	metrics MetricsInterface
	cache   *lru.Cache[cacheKey, PredictionResult]

	mu      sync.Mutex
	version string
}

// New creates a prediction service reading models from source.
func New(source ModelSource, cfg Config, metrics MetricsInterface) (*Service, error) {
	s := &Service{source: source, metrics: metrics}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[cacheKey, PredictionResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Health reports liveness. It never touches the model artifact.
func (s *Service) Health() HealthStatus {
	return HealthStatus{Status: common.StatusOK, Service: common.ServiceName}
}

// Predict scores features with the current model.
func (s *Service) Predict(ctx context.Context, features []float64) (*PredictionResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := ml.ValidateFeatures(features, common.NumFeatures); err != nil {
		s.metrics.InvalidRequestsInc()
		return nil, fmt.Errorf("%w: %w", ErrClientInput, err)
	}

	snap, err := s.source.Snapshot()
	if err != nil {
		s.metrics.PredictionFailuresInc()
		return nil, fmt.Errorf("load model: %w", err)
	}
	s.observeVersion(snap)

	var key cacheKey
	if s.cache != nil {
		key.version = snap.Version
		copy(key.features[:], features)
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.CacheHitInc()
			s.record(snap, cached.Probability, start)
			return cached.clone(), nil
		}
		s.metrics.CacheMissInc()
	}

	probability, err := snap.Model.PredictProba(features)
	if err != nil {
		s.metrics.PredictionFailuresInc()
		return nil, fmt.Errorf("predict with %s: %w", snap.Model.Kind(), err)
	}

	result := PredictionResult{
		Probability:  probability,
		Label:        Label(probability),
		ModelKind:    snap.Model.Kind(),
		ModelVersion: snap.Version,
	}

	exp, err := explain.Explain(snap.Model, features)
	switch {
	case errors.Is(err, explain.ErrIncompatibleModel):
		// No tree structure to attribute; probability and label still stand.
	case err != nil:
		s.metrics.ExplanationFailuresInc()
		s.metrics.PredictionFailuresInc()
		log.Error().Err(err).Str("model", string(snap.Model.Kind())).Msg("Explanation failed")
		return nil, fmt.Errorf("explain prediction: %w", err)
	default:
		result.Explanation = exp
	}

	if s.cache != nil {
		s.cache.Add(key, result)
	}
	s.record(snap, probability, start)
	return result.clone(), nil
}

// ModelInfo reports what is currently being served.
func (s *Service) ModelInfo() (*ModelInfo, error) {
	snap, err := s.source.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	info := &ModelInfo{
		Kind:     snap.Model.Kind(),
		Version:  snap.Version,
		Fallback: snap.Fallback,
		LoadedAt: snap.LoadedAt,
		Features: common.FeatureNames(),
	}
	if !snap.Fallback {
		if report, err := s.source.Report(); err == nil {
			info.Report = report
		}
	}
	return info, nil
}

// Label thresholds a churn probability: 1 iff p >= 0.5.
func Label(p float64) int {
	if p >= common.DecisionThreshold {
		return 1
	}
	return 0
}

// observeVersion drops cached results when the artifact changes.
func (s *Service) observeVersion(snap *artifact.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == snap.Version {
		return
	}
	previous := s.version
	s.version = snap.Version
	if s.cache != nil {
		s.cache.Purge()
	}
	if previous == "" {
		return
	}
	s.metrics.ModelReloadsInc()
	log.Info().
		Str("previous", previous).
		Str("current", snap.Version).
		Str("kind", string(snap.Model.Kind())).
		Msg("Serving model changed, prediction cache purged")
}

func (s *Service) record(snap *artifact.Snapshot, probability float64, start time.Time) {
	s.metrics.PredictionsInc(string(snap.Model.Kind()))
	if snap.Fallback {
		s.metrics.FallbackUseInc()
	}
	s.metrics.ProbabilityObserve(probability)
	s.metrics.LatencyObserve(time.Since(start).Seconds())
}

func (r PredictionResult) clone() *PredictionResult {
	out := r
	if r.Explanation != nil {
		exp := *r.Explanation
		exp.Values = append([]float64(nil), r.Explanation.Values...)
		exp.Features = append([]string(nil), r.Explanation.Features...)
		out.Explanation = &exp
	}
	return &out
}
