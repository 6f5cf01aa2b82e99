package service

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dropiq-ml/internal/artifact"
	"dropiq-ml/internal/common"
	"dropiq-ml/internal/dataset"
	"dropiq-ml/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var probe = []float64{1, 100, 5, 1, 10}

func stump(feature int, threshold, left, right float64) ml.Tree {
	return ml.Tree{Nodes: []ml.Node{
		{Feature: feature, Threshold: threshold, Left: 1, Right: 2, Value: (left + right) / 2, Cover: 10},
		{Feature: -1, Value: left, Cover: 5},
		{Feature: -1, Value: right, Cover: 5},
	}}
}

func testForest() *ml.RandomForest {
	return &ml.RandomForest{
		NumFeatures: common.NumFeatures,
		Trees:       []ml.Tree{stump(0, 12, 0.8, 0.1), stump(4, 0, 0.9, 0.3)},
	}
}

func testBoosting() *ml.GradientBoosting {
	return &ml.GradientBoosting{
		NumFeatures: common.NumFeatures,
		BaseMargin:  -1.2,
		Trees:       []ml.Tree{stump(0, 12, 0.5, -0.4), stump(2, 3, -0.1, 0.2)},
	}
}

func newTestService(t *testing.T, cacheSize int) (*Service, *artifact.Store, *MockMetrics) {
	t.Helper()
	dir := t.TempDir()
	store := artifact.NewStore(filepath.Join(dir, "model.json.gz"), filepath.Join(dir, "training_report.md"))
	metrics := newMockMetrics()
	svc, err := New(store, Config{CacheSize: cacheSize}, metrics)
	require.NoError(t, err)
	return svc, store, metrics
}

func TestHealth(t *testing.T) {
	svc, store, _ := newTestService(t, 0)
	assert.Equal(t, HealthStatus{Status: "ok", Service: "dropiq-ml"}, svc.Health())

	// Independent of artifact state, even a corrupt one.
	require.NoError(t, os.WriteFile(store.ModelPath(), []byte("garbage"), 0o600))
	assert.Equal(t, HealthStatus{Status: "ok", Service: "dropiq-ml"}, svc.Health())
}

func TestPredict_FallbackWithoutArtifact(t *testing.T) {
	svc, _, metrics := newTestService(t, 16)

	result, err := svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, 0.7, result.Probability)
	assert.Equal(t, 1, result.Label)
	assert.Nil(t, result.Explanation)
	assert.Equal(t, ml.KindConstant, result.ModelKind)
	assert.Equal(t, artifact.FallbackVersion, result.ModelVersion)

	assert.Equal(t, 1, metrics.fallbackUse)
	assert.Equal(t, 1, metrics.predictions[string(ml.KindConstant)])
	assert.Zero(t, metrics.explanationFailures)
}

func TestPredict_RejectsWrongLength(t *testing.T) {
	svc, _, metrics := newTestService(t, 16)

	for _, features := range [][]float64{{1, 100, 5, 1}, {1, 100, 5, 1, 10, 3}, nil} {
		_, err := svc.Predict(context.Background(), features)
		assert.ErrorIs(t, err, ErrClientInput)
		assert.ErrorIs(t, err, ml.ErrInvalidFeatures)
	}
	assert.Equal(t, 3, metrics.invalid)
	assert.Empty(t, metrics.predictions)
}

func TestPredict_RejectsNonFinite(t *testing.T) {
	svc, _, _ := newTestService(t, 0)

	_, err := svc.Predict(context.Background(), []float64{1, math.NaN(), 5, 1, 10})
	assert.ErrorIs(t, err, ErrClientInput)

	_, err = svc.Predict(context.Background(), []float64{1, 100, math.Inf(1), 1, 10})
	assert.ErrorIs(t, err, ErrClientInput)
}

func TestPredict_TreeModelIsExplained(t *testing.T) {
	for _, model := range []ml.TreeEnsemble{testForest(), testBoosting()} {
		t.Run(string(model.Kind()), func(t *testing.T) {
			svc, store, _ := newTestService(t, 0)
			require.NoError(t, store.Save(model))

			result, err := svc.Predict(context.Background(), probe)
			require.NoError(t, err)

			want, err := model.PredictProba(probe)
			require.NoError(t, err)
			assert.Equal(t, want, result.Probability)
			assert.Equal(t, result.Probability >= 0.5, result.Label == 1)

			require.NotNil(t, result.Explanation)
			assert.Len(t, result.Explanation.Values, len(probe))

			raw := model.Ensemble().Raw(probe)
			assert.InDelta(t, raw, result.Explanation.Sum(), 1e-9)
		})
	}
}

func TestPredict_TrainedModelProbe(t *testing.T) {
	rows, err := dataset.Generate(1000, 42)
	require.NoError(t, err)

	cfg := ml.DefaultTrainerConfig()
	cfg.Forest.Trees = 10
	cfg.Boosting.Rounds = 20
	res, err := ml.NewTrainer(cfg).Train(context.Background(), rows)
	require.NoError(t, err)

	svc, store, _ := newTestService(t, 8)
	require.NoError(t, store.Save(res.Model))

	result, err := svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Probability, 0.0)
	assert.LessOrEqual(t, result.Probability, 1.0)
	assert.Equal(t, result.Probability >= 0.5, result.Label == 1)
	require.NotNil(t, result.Explanation)
	assert.Len(t, result.Explanation.Values, 5)
	assert.Equal(t, res.Model.Kind(), result.ModelKind)
}

func TestPredict_CacheHitsAndIsolation(t *testing.T) {
	svc, store, metrics := newTestService(t, 16)
	require.NoError(t, store.Save(testForest()))

	first, err := svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	first.Explanation.Values[0] = 1000

	second, err := svc.Predict(context.Background(), probe)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.cacheMisses)
	assert.Equal(t, 1, metrics.cacheHits)
	assert.NotEqual(t, 1000.0, second.Explanation.Values[0])
	assert.Equal(t, first.Probability, second.Probability)
	assert.Equal(t, 2, metrics.predictions[string(ml.KindRandomForest)])
}

func TestPredict_NewArtifactTakesEffect(t *testing.T) {
	svc, store, metrics := newTestService(t, 16)

	result, err := svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, ml.KindConstant, result.ModelKind)

	require.NoError(t, store.Save(testForest()))
	result, err = svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, ml.KindRandomForest, result.ModelKind)

	require.NoError(t, store.Save(testBoosting()))
	result, err = svc.Predict(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, ml.KindGradientBoosting, result.ModelKind)

	assert.Equal(t, 2, metrics.reloads)
	assert.Zero(t, metrics.cacheHits)
}

func TestPredict_CorruptArtifactIsServerFault(t *testing.T) {
	svc, store, metrics := newTestService(t, 0)
	require.NoError(t, os.WriteFile(store.ModelPath(), []byte("garbage"), 0o600))

	_, err := svc.Predict(context.Background(), probe)
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrArtifactCorrupt)
	assert.NotErrorIs(t, err, ErrClientInput)
	assert.Equal(t, 1, metrics.failures)
}

func TestPredict_CancelledContext(t *testing.T) {
	svc, _, _ := newTestService(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Predict(ctx, probe)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_Concurrent(t *testing.T) {
	svc, store, metrics := newTestService(t, 4)
	require.NoError(t, store.Save(testBoosting()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			features := []float64{float64(i), 100, 5, 1, 10}
			for j := 0; j < 25; j++ {
				result, err := svc.Predict(context.Background(), features)
				assert.NoError(t, err)
				assert.NotNil(t, result.Explanation)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, metrics.predictions[string(ml.KindGradientBoosting)])
}

func TestModelInfo(t *testing.T) {
	svc, store, _ := newTestService(t, 0)

	info, err := svc.ModelInfo()
	require.NoError(t, err)
	assert.True(t, info.Fallback)
	assert.Equal(t, ml.KindConstant, info.Kind)
	assert.Equal(t, artifact.FallbackVersion, info.Version)
	assert.Equal(t, common.FeatureNames(), info.Features)
	assert.Empty(t, info.Report)

	report := "# DROPIQ Training Report\n"
	require.NoError(t, store.Commit(testForest(), []byte(report)))

	info, err = svc.ModelInfo()
	require.NoError(t, err)
	assert.False(t, info.Fallback)
	assert.Equal(t, ml.KindRandomForest, info.Kind)
	assert.Equal(t, report, info.Report)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, 0, Label(0))
	assert.Equal(t, 0, Label(0.4999))
	assert.Equal(t, 1, Label(0.5))
	assert.Equal(t, 1, Label(0.7))
	assert.Equal(t, 1, Label(1))
}
