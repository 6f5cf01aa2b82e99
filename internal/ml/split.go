package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split holds the row indices of the train and test partitions.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions row indices so that every class contributes
// round(count*testFraction) rows to the test partition. Indices inside each
// partition are returned in ascending order.
func StratifiedSplit(labels []int, testFraction float64, seed int64) (Split, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("test fraction must be in (0,1), got %f", testFraction)
	}

	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	var split Split
	for _, c := range classes {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nTest := int(math.Round(float64(len(idx)) * testFraction))
		split.Test = append(split.Test, idx[:nTest]...)
		split.Train = append(split.Train, idx[nTest:]...)
	}
	sort.Ints(split.Train)
	sort.Ints(split.Test)

	return split, nil
}

// Subset selects the rows of x and y named by idx.
func Subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for k, i := range idx {
		xs[k] = x[i]
		ys[k] = y[i]
	}
	return xs, ys
}

// CountPositives returns the number of labels equal to 1.
func CountPositives(y []int) int {
	n := 0
	for _, v := range y {
		n += v
	}
	return n
}
