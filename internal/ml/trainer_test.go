package ml

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"dropiq-ml/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.Forest.Trees = 12
	cfg.Forest.MaxDepth = 8
	cfg.Boosting.Rounds = 30
	return cfg
}

func TestTrainer_Train(t *testing.T) {
	rows, err := dataset.Generate(2000, 42)
	require.NoError(t, err)

	var forestTrees, rounds atomic.Int32
	cfg := smallTrainerConfig()
	cfg.Progress = func(kind Kind) {
		if kind == KindRandomForest {
			forestTrees.Add(1)
		} else {
			rounds.Add(1)
		}
	}

	result, err := NewTrainer(cfg).Train(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, 1600, result.TrainRows)
	assert.Equal(t, 400, result.TestRows)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, KindRandomForest, result.Candidates[0].Kind)
	assert.Equal(t, KindGradientBoosting, result.Candidates[1].Kind)

	for _, c := range result.Candidates {
		assert.GreaterOrEqual(t, c.F1, 0.0)
		assert.LessOrEqual(t, c.F1, 1.0)
		assert.Greater(t, c.AUC, 0.7, "the synthetic signal should be learnable")
	}

	want := result.Candidates[SelectCandidate(result.Candidates)]
	assert.Equal(t, want, result.Selected)
	assert.Equal(t, result.Selected.Kind, result.Model.Kind())

	assert.Equal(t, int32(12), forestTrees.Load())
	assert.Equal(t, int32(30), rounds.Load())
}

func TestTrainer_Deterministic(t *testing.T) {
	rows, err := dataset.Generate(800, 5)
	require.NoError(t, err)
	cfg := smallTrainerConfig()

	a, err := NewTrainer(cfg).Train(context.Background(), rows)
	require.NoError(t, err)
	b, err := NewTrainer(cfg).Train(context.Background(), rows)
	require.NoError(t, err)

	assert.Equal(t, a.Candidates, b.Candidates)
	probe := []float64{1, 100, 5, 1, 10}
	pa, err := a.Model.PredictProba(probe)
	require.NoError(t, err)
	pb, err := b.Model.PredictProba(probe)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestTrainer_SingleClassFails(t *testing.T) {
	rows, err := dataset.Generate(300, 42)
	require.NoError(t, err)
	for i := range rows {
		rows[i].Label = 0
	}

	_, err = NewTrainer(smallTrainerConfig()).Train(context.Background(), rows)
	assert.ErrorIs(t, err, ErrTrainingFailure)
	assert.True(t, strings.Contains(err.Error(), "single class"))
}

func TestTrainer_EmptyDatasetFails(t *testing.T) {
	_, err := NewTrainer(smallTrainerConfig()).Train(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTrainingFailure)
}

func TestTrainer_CancelledContext(t *testing.T) {
	rows, err := dataset.Generate(500, 42)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTrainer(smallTrainerConfig()).Train(ctx, rows)
	assert.ErrorIs(t, err, ErrTrainingFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainingReport(t *testing.T) {
	report := TrainingReport{
		Candidates: []CandidateMetrics{
			{Kind: KindRandomForest, F1: 0.81234, AUC: 0.9},
			{Kind: KindGradientBoosting, F1: 0.8, AUC: 0.91666},
		},
		Selected: CandidateMetrics{Kind: KindRandomForest, F1: 0.81234, AUC: 0.9},
	}

	want := "# DROPIQ Training Report\n\n" +
		"RandomForest F1: 0.812, AUC: 0.900\n\n" +
		"GradientBoosting F1: 0.800, AUC: 0.917\n\n" +
		"**Selected model** (RandomForest) F1: 0.812, AUC: 0.900\n"
	assert.Equal(t, want, report.String())
	assert.Equal(t, []byte(want), report.Bytes())
}
