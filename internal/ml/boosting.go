package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// BoostingConfig configures the gradient-boosted tree candidate.
type BoostingConfig struct {
	Rounds         int     `yaml:"rounds"`
	MaxDepth       int     `yaml:"maxDepth"`
	LearningRate   float64 `yaml:"learningRate"`
	Subsample      float64 `yaml:"subsample"`
	ColSample      float64 `yaml:"colSample"`
	Lambda         float64 `yaml:"lambda"`
	MinChildWeight float64 `yaml:"minChildWeight"`
	Seed           int64   `yaml:"seed"`
}

// DefaultBoostingConfig mirrors the reference training setup.
func DefaultBoostingConfig() BoostingConfig {
	return BoostingConfig{
		Rounds:         300,
		MaxDepth:       4,
		LearningRate:   0.1,
		Subsample:      0.8,
		ColSample:      0.8,
		Lambda:         1.0,
		MinChildWeight: 1.0,
		Seed:           42,
	}
}

// GradientBoosting is an additive ensemble of regression trees fitted to the
// log-loss gradient. Leaf values already include the learning rate.
type GradientBoosting struct {
	NumFeatures int     `json:"num_features"`
	BaseMargin  float64 `json:"base_margin"`
	Trees       []Tree  `json:"trees"`
}

func (m *GradientBoosting) Kind() Kind { return KindGradientBoosting }

func (m *GradientBoosting) PredictProba(features []float64) (float64, error) {
	if err := ValidateFeatures(features, m.NumFeatures); err != nil {
		return 0, err
	}
	return sigmoid(m.Ensemble().Raw(features)), nil
}

// Margin returns the log-odds of churn for features.
func (m *GradientBoosting) Margin(features []float64) (float64, error) {
	if err := ValidateFeatures(features, m.NumFeatures); err != nil {
		return 0, err
	}
	return m.Ensemble().Raw(features), nil
}

func (m *GradientBoosting) Ensemble() Ensemble {
	return Ensemble{
		Trees:       m.Trees,
		Weight:      1.0,
		Bias:        m.BaseMargin,
		Output:      OutputLogOdds,
		NumFeatures: m.NumFeatures,
	}
}

// FitGradientBoosting runs cfg.Rounds boosting rounds with second-order
// (Newton) tree construction. Rounds are sequential; ctx is checked between
// them. progress, when non-nil, is called after each round.
func FitGradientBoosting(ctx context.Context, x [][]float64, y []int, cfg BoostingConfig, progress func()) (*GradientBoosting, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("boosting: %d rows, %d labels", n, len(y))
	}
	if cfg.Rounds <= 0 || cfg.MaxDepth <= 0 || cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("boosting: invalid config %+v", cfg)
	}
	numFeatures := len(x[0])

	var mean float64
	for _, v := range y {
		mean += float64(v)
	}
	mean /= float64(n)
	mean = math.Min(math.Max(mean, 1e-6), 1-1e-6)
	base := math.Log(mean / (1 - mean))

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	rng := rand.New(rand.NewSource(cfg.Seed))
	model := &GradientBoosting{NumFeatures: numFeatures, BaseMargin: base}

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range margin {
			p := sigmoid(margin[i])
			grad[i] = p - float64(y[i])
			hess[i] = math.Max(p*(1-p), 1e-16)
		}

		b := &newtonBuilder{
			x:        x,
			grad:     grad,
			hess:     hess,
			features: sampleCount(rng, numFeatures, cfg.ColSample),
			cfg:      cfg,
		}
		tree := b.fit(sampleCount(rng, n, cfg.Subsample))
		for i := range margin {
			margin[i] += tree.Predict(x[i])
		}
		model.Trees = append(model.Trees, tree)

		if progress != nil {
			progress()
		}
	}

	return model, nil
}

// sampleCount draws max(1, floor(frac*n)) distinct indices from [0,n).
// A fraction outside (0,1) selects everything.
func sampleCount(rng *rand.Rand, n int, frac float64) []int {
	k := n
	if frac > 0 && frac < 1 {
		k = int(math.Floor(frac * float64(n)))
		if k < 1 {
			k = 1
		}
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

// newtonBuilder grows one regression tree on gradient/hessian statistics.
type newtonBuilder struct {
	nodeBuilder
	x        [][]float64
	grad     []float64
	hess     []float64
	features []int
	cfg      BoostingConfig
}

func (b *newtonBuilder) fit(idx []int) Tree {
	b.grow(idx, 0)
	return b.tree()
}

func (b *newtonBuilder) grow(idx []int, depth int) int {
	id := b.reserve()
	var g, h float64
	for _, i := range idx {
		g += b.grad[i]
		h += b.hess[i]
	}
	weight := -g / (h + b.cfg.Lambda) * b.cfg.LearningRate

	if depth >= b.cfg.MaxDepth || len(idx) < 2 {
		b.leaf(id, weight, h)
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, g, h)
	if !ok {
		b.leaf(id, weight, h)
		return id
	}

	leftIdx, rightIdx := partition(b.x, idx, feature, threshold)
	left := b.grow(leftIdx, depth+1)
	right := b.grow(rightIdx, depth+1)
	b.split(id, feature, threshold, left, right, weight, h)
	return id
}

func (b *newtonBuilder) bestSplit(idx []int, g, h float64) (int, float64, bool) {
	lambda := b.cfg.Lambda
	parent := g * g / (h + lambda)
	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0

	buf := make([]sortedFeature, len(idx))
	for _, f := range b.features {
		for k, i := range idx {
			buf[k] = sortedFeature{value: b.x[i][f], index: i}
		}
		sort.Slice(buf, func(a, c int) bool { return buf[a].value < buf[c].value })

		var gl, hl float64
		for k := 1; k < len(buf); k++ {
			gl += b.grad[buf[k-1].index]
			hl += b.hess[buf[k-1].index]
			if buf[k].value == buf[k-1].value {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.cfg.MinChildWeight || hr < b.cfg.MinChildWeight {
				continue
			}
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = midpoint(buf[k-1].value, buf[k].value)
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}
