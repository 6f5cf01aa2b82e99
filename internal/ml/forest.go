package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ForestConfig configures the bagged random forest candidate.
type ForestConfig struct {
	Trees          int   `yaml:"trees"`
	MaxDepth       int   `yaml:"maxDepth"`       // 0 means unbounded
	MinSamplesLeaf int   `yaml:"minSamplesLeaf"` // at least 1
	MaxFeatures    int   `yaml:"maxFeatures"`    // 0 means floor(sqrt(features))
	Seed           int64 `yaml:"seed"`
}

// DefaultForestConfig mirrors the reference training setup.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          200,
		MaxDepth:       12,
		MinSamplesLeaf: 5,
		Seed:           42,
	}
}

// RandomForest averages the positive-class fractions of bootstrap-trained
// CART trees.
type RandomForest struct {
	NumFeatures int    `json:"num_features"`
	Trees       []Tree `json:"trees"`
}

func (f *RandomForest) Kind() Kind { return KindRandomForest }

func (f *RandomForest) PredictProba(features []float64) (float64, error) {
	if err := ValidateFeatures(features, f.NumFeatures); err != nil {
		return 0, err
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("random forest has no trees")
	}
	return f.Ensemble().Raw(features), nil
}

func (f *RandomForest) Ensemble() Ensemble {
	return Ensemble{
		Trees:       f.Trees,
		Weight:      1.0 / float64(len(f.Trees)),
		Output:      OutputProbability,
		NumFeatures: f.NumFeatures,
	}
}

// FitRandomForest grows cfg.Trees trees on bootstrap samples of (x, y) using
// up to parallelism goroutines. Every tree draws from its own PRNG derived
// from the seed and the tree index, so the result does not depend on
// scheduling. progress, when non-nil, is called once per finished tree and
// must be safe for concurrent use.
func FitRandomForest(ctx context.Context, x [][]float64, y []int, cfg ForestConfig, parallelism int, progress func()) (*RandomForest, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("forest: %d rows, %d labels", len(x), len(y))
	}
	if cfg.Trees <= 0 {
		return nil, fmt.Errorf("forest: tree count must be positive, got %d", cfg.Trees)
	}
	numFeatures := len(x[0])
	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Floor(math.Sqrt(float64(numFeatures))))
	}
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	if maxFeatures > numFeatures {
		maxFeatures = numFeatures
	}
	minLeaf := cfg.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	if parallelism < 1 {
		parallelism = 1
	}

	trees := make([]Tree, cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for t := 0; t < cfg.Trees; t++ {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := &cartBuilder{
				x:           x,
				y:           y,
				rng:         rand.New(rand.NewSource(treeSeed(cfg.Seed, t))),
				maxDepth:    cfg.MaxDepth,
				minLeaf:     minLeaf,
				maxFeatures: maxFeatures,
				numFeatures: numFeatures,
			}
			trees[t] = b.fit(bootstrap(b.rng, len(x)))
			if progress != nil {
				progress()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RandomForest{NumFeatures: numFeatures, Trees: trees}, nil
}

func treeSeed(seed int64, tree int) int64 {
	return seed*1_000_003 + int64(tree)
}

func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// cartBuilder grows one Gini-impurity classification tree.
type cartBuilder struct {
	nodeBuilder
	x           [][]float64
	y           []int
	rng         *rand.Rand
	maxDepth    int
	minLeaf     int
	maxFeatures int
	numFeatures int
}

func (b *cartBuilder) fit(idx []int) Tree {
	b.grow(idx, 0)
	return b.tree()
}

func (b *cartBuilder) grow(idx []int, depth int) int {
	id := b.reserve()
	n := len(idx)
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	value := float64(pos) / float64(n)

	if pos == 0 || pos == n || n < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		b.leaf(id, value, float64(n))
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		b.leaf(id, value, float64(n))
		return id
	}

	leftIdx, rightIdx := partition(b.x, idx, feature, threshold)
	left := b.grow(leftIdx, depth+1)
	right := b.grow(rightIdx, depth+1)
	b.split(id, feature, threshold, left, right, value, float64(n))
	return id
}

// bestSplit evaluates randomly ordered features until maxFeatures
// non-constant ones have been scanned, and returns the split with the lowest
// weighted Gini impurity. Only strict improvements over the parent count.
func (b *cartBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := float64(len(idx))
	bestImpurity := gini(float64(pos), n) - 1e-12
	bestFeature, bestThreshold := -1, 0.0

	buf := make([]sortedFeature, len(idx))
	visited := 0
	for _, f := range b.rng.Perm(b.numFeatures) {
		if visited >= b.maxFeatures {
			break
		}
		for k, i := range idx {
			buf[k] = sortedFeature{value: b.x[i][f], index: i}
		}
		sort.Slice(buf, func(a, c int) bool { return buf[a].value < buf[c].value })
		if buf[0].value == buf[len(buf)-1].value {
			continue
		}
		visited++

		leftPos := 0
		for k := 1; k < len(buf); k++ {
			leftPos += b.y[buf[k-1].index]
			if buf[k].value == buf[k-1].value {
				continue
			}
			if k < b.minLeaf || len(buf)-k < b.minLeaf {
				continue
			}
			nl := float64(k)
			nr := n - nl
			rightPos := float64(pos - leftPos)
			impurity := (nl*gini(float64(leftPos), nl) + nr*gini(rightPos, nr)) / n
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = midpoint(buf[k-1].value, buf[k].value)
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// gini is the impurity of a binary node with pos positives out of n.
func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}
