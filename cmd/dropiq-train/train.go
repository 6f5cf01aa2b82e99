package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dropiq-ml/internal/artifact"
	"dropiq-ml/internal/cfg"
	"dropiq-ml/internal/dataset"
	"dropiq-ml/internal/explain"
	"dropiq-ml/internal/metrics"
	"dropiq-ml/internal/ml"

	"github.com/rs/zerolog/log"
)

const maxImportanceRows = 500

// job is one training run: generate, fit, select, commit.
type job struct {
	settings    cfg.Settings
	datasetPath string // optional CSV dump of the generated rows
	metrics     *metrics.Metrics
	progress    func(kind ml.Kind)
}

func (j *job) run(ctx context.Context) (*ml.TrainResult, error) {
	s := j.settings
	rows, err := dataset.Generate(s.TrainRows, s.TrainSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: generate dataset: %v", ml.ErrTrainingFailure, err)
	}
	log.Info().
		Int("rows", len(rows)).
		Int64("seed", s.TrainSeed).
		Float64("positive_rate", dataset.PositiveRate(rows)).
		Msg("Synthetic dataset generated")

	if j.datasetPath != "" {
		if err := writeDataset(j.datasetPath, rows); err != nil {
			return nil, err
		}
		log.Info().Str("path", j.datasetPath).Msg("Dataset written")
	}

	tc := s.TrainerConfig()
	tc.Progress = j.progress
	result, err := ml.NewTrainer(tc).Train(ctx, rows)
	if err != nil {
		return nil, err
	}

	importance, err := explain.GlobalImportance(result.Model, importanceSample(rows))
	if err != nil {
		return nil, fmt.Errorf("feature importance: %w", err)
	}
	byName := make(map[string]float64, len(importance))
	for _, fi := range importance {
		byName[fi.Name] = fi.MeanAbs
		log.Info().
			Str("feature", fi.Name).
			Float64("mean_abs", fi.MeanAbs).
			Float64("mean_signed", fi.MeanSigned).
			Msg("Feature importance")
	}

	store := artifact.NewStore(s.ModelPath, s.ReportPath)
	report := ml.NewTrainingReport(result)
	if err := store.Commit(result.Model, report.Bytes()); err != nil {
		return nil, fmt.Errorf("commit model: %w", err)
	}

	if j.metrics != nil {
		j.metrics.RecordImportance(byName)
		scores := make([]metrics.CandidateScore, len(result.Candidates))
		for i, c := range result.Candidates {
			scores[i] = metrics.CandidateScore{Model: string(c.Kind), F1: c.F1, AUC: c.AUC}
		}
		j.metrics.RecordTraining(result.Duration.Seconds(), result.TrainRows, result.TestRows, scores, string(result.Selected.Kind))
	}
	return result, nil
}

// importanceSample returns the rows used for global importance.
func importanceSample(rows []dataset.LabeledRow) [][]float64 {
	n := min(len(rows), maxImportanceRows)
	x, _ := dataset.Matrix(rows[:n])
	return x
}

func writeDataset(path string, rows []dataset.LabeledRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	if err := dataset.WriteCSV(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("write dataset: %w", err)
	}
	return f.Close()
}
