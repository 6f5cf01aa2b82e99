package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrSingleClass is returned by metrics that are undefined when the labels
// contain only one class.
var ErrSingleClass = errors.New("labels contain a single class")

// F1Score computes the F1 of the positive class with predictions taken as
// score > threshold. It is 0 when there are no true positives.
func F1Score(labels []int, scores []float64, threshold float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("f1: %d labels, %d scores", len(labels), len(scores))
	}
	var tp, fp, fn float64
	for i, s := range scores {
		predicted := s > threshold
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		}
	}
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0, nil
	}
	return 2 * tp / denom, nil
}

// ROCAUC returns the area under the ROC curve of scores against labels.
func ROCAUC(labels []int, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("auc: %d labels, %d scores", len(labels), len(scores))
	}
	pos := CountPositives(labels)
	if pos == 0 || pos == len(labels) {
		return 0, ErrSingleClass
	}

	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(labels))
	for i, l := range labels {
		classes[i] = l == 1
	}
	stat.SortWeightedLabeled(y, classes, nil)

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0, fmt.Errorf("auc: undefined")
	}
	return auc, nil
}

// PredictAll scores every row of x with c.
func PredictAll(c Classifier, x [][]float64) ([]float64, error) {
	scores := make([]float64, len(x))
	for i, row := range x {
		p, err := c.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		scores[i] = p
	}
	return scores, nil
}
