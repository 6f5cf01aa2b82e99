package ml

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// thresholdData labels rows by x0 >= 50; x1 is noise.
func thresholdData(n int) ([][]float64, []int) {
	x := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		v := float64(i % 100)
		x[i] = []float64{v, float64((i * 37) % 11)}
		if v >= 50 {
			y[i] = 1
		}
	}
	return x, y
}

func TestFitRandomForest_LearnsThreshold(t *testing.T) {
	x, y := thresholdData(400)
	cfg := ForestConfig{Trees: 15, MaxDepth: 6, MinSamplesLeaf: 1, MaxFeatures: 2, Seed: 7}

	forest, err := FitRandomForest(context.Background(), x, y, cfg, 4, nil)
	require.NoError(t, err)
	require.Len(t, forest.Trees, 15)
	assert.Equal(t, KindRandomForest, forest.Kind())

	low, err := forest.PredictProba([]float64{10, 3})
	require.NoError(t, err)
	high, err := forest.PredictProba([]float64{90, 3})
	require.NoError(t, err)
	assert.Less(t, low, 0.2)
	assert.Greater(t, high, 0.8)

	for _, tree := range forest.Trees {
		require.NoError(t, tree.Validate(2))
		assert.LessOrEqual(t, tree.Depth(), 6)
	}
}

func TestFitRandomForest_DeterministicAcrossParallelism(t *testing.T) {
	x, y := thresholdData(300)
	cfg := ForestConfig{Trees: 8, MaxDepth: 5, MinSamplesLeaf: 2, Seed: 3}

	serial, err := FitRandomForest(context.Background(), x, y, cfg, 1, nil)
	require.NoError(t, err)
	parallel, err := FitRandomForest(context.Background(), x, y, cfg, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, serial.Trees, parallel.Trees)
}

func TestFitRandomForest_ProgressAndCancel(t *testing.T) {
	x, y := thresholdData(100)
	var calls atomic.Int32
	cfg := ForestConfig{Trees: 5, MaxDepth: 3, MinSamplesLeaf: 1, Seed: 1}
	_, err := FitRandomForest(context.Background(), x, y, cfg, 2, func() { calls.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, int32(5), calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FitRandomForest(ctx, x, y, cfg, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitRandomForest_InvalidInput(t *testing.T) {
	_, err := FitRandomForest(context.Background(), nil, nil, DefaultForestConfig(), 1, nil)
	assert.Error(t, err)

	x, y := thresholdData(10)
	_, err = FitRandomForest(context.Background(), x, y, ForestConfig{Trees: 0}, 1, nil)
	assert.Error(t, err)
}

func TestFitGradientBoosting_LearnsThreshold(t *testing.T) {
	x, y := thresholdData(400)
	cfg := DefaultBoostingConfig()
	cfg.Rounds = 40
	cfg.ColSample = 1

	model, err := FitGradientBoosting(context.Background(), x, y, cfg, nil)
	require.NoError(t, err)
	require.Len(t, model.Trees, 40)
	assert.Equal(t, KindGradientBoosting, model.Kind())

	low, err := model.PredictProba([]float64{10, 3})
	require.NoError(t, err)
	high, err := model.PredictProba([]float64{90, 3})
	require.NoError(t, err)
	assert.Less(t, low, 0.2)
	assert.Greater(t, high, 0.8)

	margin, err := model.Margin([]float64{90, 3})
	require.NoError(t, err)
	assert.InDelta(t, high, sigmoid(margin), 1e-12)

	for _, tree := range model.Trees {
		require.NoError(t, tree.Validate(2))
		assert.LessOrEqual(t, tree.Depth(), cfg.MaxDepth)
	}
}

func TestFitGradientBoosting_Deterministic(t *testing.T) {
	x, y := thresholdData(200)
	cfg := DefaultBoostingConfig()
	cfg.Rounds = 10

	a, err := FitGradientBoosting(context.Background(), x, y, cfg, nil)
	require.NoError(t, err)
	b, err := FitGradientBoosting(context.Background(), x, y, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestModels_RejectWrongLength(t *testing.T) {
	x, y := thresholdData(100)
	forest, err := FitRandomForest(context.Background(), x, y, ForestConfig{Trees: 2, MaxDepth: 2, Seed: 1}, 1, nil)
	require.NoError(t, err)

	_, err = forest.PredictProba([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidFeatures)
}

func TestConstantModel(t *testing.T) {
	m := NewConstantModel(0.7)
	assert.Equal(t, KindConstant, m.Kind())
	assert.False(t, IsTreeEnsemble(m))

	for _, in := range [][]float64{nil, {1}, {1, 100, 5, 1, 10}} {
		p, err := m.PredictProba(in)
		require.NoError(t, err)
		assert.Equal(t, 0.7, p)
	}
}

func TestValidateFeatures(t *testing.T) {
	assert.NoError(t, ValidateFeatures([]float64{1, 2}, 2))
	assert.ErrorIs(t, ValidateFeatures([]float64{1}, 2), ErrInvalidFeatures)
	nan := 0.0
	assert.ErrorIs(t, ValidateFeatures([]float64{1, nan / nan}, 2), ErrInvalidFeatures)
}
