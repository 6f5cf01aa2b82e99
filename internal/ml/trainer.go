package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/dataset"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// CandidateMetrics holds the hold-out scores of one fitted candidate.
type CandidateMetrics struct {
	Kind Kind    `json:"kind"`
	F1   float64 `json:"f1"`
	AUC  float64 `json:"auc"`
}

// TrainerConfig configures a training run.
type TrainerConfig struct {
	Seed         int64
	TestFraction float64
	Forest       ForestConfig
	Boosting     BoostingConfig
	Parallelism  int
	// Progress is called with the candidate kind after every fitted tree or
	// boosting round. Calls may be concurrent.
	Progress func(kind Kind)
}

// DefaultTrainerConfig returns the reference configuration.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Seed:         common.DefaultTrainSeed,
		TestFraction: common.TestFraction,
		Forest:       DefaultForestConfig(),
		Boosting:     DefaultBoostingConfig(),
		Parallelism:  common.DefaultTrainParallelism,
	}
}

// TrainResult is the outcome of a successful training run.
type TrainResult struct {
	Model      TreeEnsemble
	Selected   CandidateMetrics
	Candidates []CandidateMetrics
	TrainRows  int
	TestRows   int
	Duration   time.Duration
}

// Trainer fits the candidate models and selects the best one.
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer creates a trainer for cfg.
func NewTrainer(cfg TrainerConfig) *Trainer {
	if cfg.TestFraction == 0 {
		cfg.TestFraction = common.TestFraction
	}
	return &Trainer{cfg: cfg}
}

// Train splits rows into stratified train/test partitions, fits the random
// forest and the gradient-boosted candidates concurrently, scores both on the
// test partition and returns the selected model. Every failure is wrapped in
// ErrTrainingFailure.
func (t *Trainer) Train(ctx context.Context, rows []dataset.LabeledRow) (*TrainResult, error) {
	start := time.Now()
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty dataset", ErrTrainingFailure)
	}

	x, y := dataset.Matrix(rows)
	split, err := StratifiedSplit(y, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailure, err)
	}
	xTrain, yTrain := Subset(x, y, split.Train)
	xTest, yTest := Subset(x, y, split.Test)

	for name, labels := range map[string][]int{"train": yTrain, "test": yTest} {
		pos := CountPositives(labels)
		if pos == 0 || pos == len(labels) {
			return nil, fmt.Errorf("%w: %s partition has a single class (%d/%d positive)", ErrTrainingFailure, name, pos, len(labels))
		}
	}

	log.Info().
		Int("train_rows", len(yTrain)).
		Int("test_rows", len(yTest)).
		Int("train_positive", CountPositives(yTrain)).
		Int("test_positive", CountPositives(yTest)).
		Msg("Stratified split complete")

	var (
		forest  *RandomForest
		boosted *GradientBoosting
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		forest, err = FitRandomForest(gctx, xTrain, yTrain, t.cfg.Forest, t.cfg.Parallelism, t.progress(KindRandomForest))
		if err != nil {
			return fmt.Errorf("fit %s: %w", KindRandomForest, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		boosted, err = FitGradientBoosting(gctx, xTrain, yTrain, t.cfg.Boosting, t.progress(KindGradientBoosting))
		if err != nil {
			return fmt.Errorf("fit %s: %w", KindGradientBoosting, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrTrainingFailure, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailure, err)
	}

	candidates := []TreeEnsemble{forest, boosted}
	metrics := make([]CandidateMetrics, len(candidates))
	for i, c := range candidates {
		m, err := Evaluate(c, xTest, yTest)
		if err != nil {
			return nil, fmt.Errorf("%w: evaluate %s: %v", ErrTrainingFailure, c.Kind(), err)
		}
		metrics[i] = m
		log.Info().
			Str("candidate", string(m.Kind)).
			Float64("f1", m.F1).
			Float64("auc", m.AUC).
			Msg("Candidate evaluated")
	}

	best := SelectCandidate(metrics)
	result := &TrainResult{
		Model:      candidates[best],
		Selected:   metrics[best],
		Candidates: metrics,
		TrainRows:  len(yTrain),
		TestRows:   len(yTest),
		Duration:   time.Since(start),
	}

	log.Info().
		Str("selected", string(result.Selected.Kind)).
		Float64("f1", result.Selected.F1).
		Float64("auc", result.Selected.AUC).
		Dur("duration", result.Duration).
		Msg("Model selected")

	return result, nil
}

func (t *Trainer) progress(kind Kind) func() {
	if t.cfg.Progress == nil {
		return nil
	}
	return func() { t.cfg.Progress(kind) }
}

// Evaluate scores c on the given rows: F1 at probability > 0.5 and ROC AUC.
func Evaluate(c Classifier, x [][]float64, y []int) (CandidateMetrics, error) {
	scores, err := PredictAll(c, x)
	if err != nil {
		return CandidateMetrics{}, err
	}
	f1, err := F1Score(y, scores, common.DecisionThreshold)
	if err != nil {
		return CandidateMetrics{}, err
	}
	auc, err := ROCAUC(y, scores)
	if err != nil {
		return CandidateMetrics{}, err
	}
	return CandidateMetrics{Kind: c.Kind(), F1: f1, AUC: auc}, nil
}

// SelectCandidate returns the index of the candidate with the strictly
// highest F1. Ties keep the earlier candidate, so with the trainer's ordering
// an exact tie selects the random forest.
func SelectCandidate(metrics []CandidateMetrics) int {
	best := 0
	for i := 1; i < len(metrics); i++ {
		if metrics[i].F1 > metrics[best].F1 {
			best = i
		}
	}
	return best
}
