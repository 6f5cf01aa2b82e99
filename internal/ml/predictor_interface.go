// Package ml provides the churn classifiers of the DropIQ service: a bagged
// random forest, a gradient-boosted tree ensemble and a constant fallback,
// together with the trainer that fits the tree candidates, evaluates them on a
// stratified hold-out partition and selects the winner.
//
// Every model satisfies Classifier. Models built from decision trees also
// satisfy TreeEnsemble, which is the capability the explanation engine needs.
package ml

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies one of the closed set of model implementations.
type Kind string

const (
	KindRandomForest     Kind = "random_forest"
	KindGradientBoosting Kind = "gradient_boosting"
	KindConstant         Kind = "constant"
)

var (
	// ErrTrainingFailure marks a training run that produced no usable model.
	ErrTrainingFailure = errors.New("training failed")
	// ErrInvalidFeatures is returned for feature vectors that do not match the
	// model's input dimensionality or contain non-finite values.
	ErrInvalidFeatures = errors.New("invalid feature vector")
)

// Classifier is the capability shared by every churn model.
type Classifier interface {
	// Kind reports which implementation this is.
	Kind() Kind
	// PredictProba returns the probability of the positive (churn) class.
	PredictProba(features []float64) (float64, error)
}

// OutputSpace describes what the summed tree outputs of an ensemble mean.
type OutputSpace int

const (
	// OutputProbability means the ensemble output is the positive-class
	// probability itself.
	OutputProbability OutputSpace = iota
	// OutputLogOdds means the ensemble output is a margin that has to go
	// through the logistic function to become a probability.
	OutputLogOdds
)

// Ensemble describes how the trees of a TreeEnsemble combine:
// raw(x) = Bias + Weight * sum(tree.Predict(x)).
type Ensemble struct {
	Trees       []Tree
	Weight      float64
	Bias        float64
	Output      OutputSpace
	NumFeatures int
}

// Raw returns the ensemble output before any link function.
func (e Ensemble) Raw(features []float64) float64 {
	var sum float64
	for i := range e.Trees {
		sum += e.Trees[i].Predict(features)
	}
	return e.Bias + e.Weight*sum
}

// TreeEnsemble is implemented by classifiers made of decision trees.
type TreeEnsemble interface {
	Classifier
	Ensemble() Ensemble
}

// IsTreeEnsemble reports whether c exposes its trees.
func IsTreeEnsemble(c Classifier) bool {
	_, ok := c.(TreeEnsemble)
	return ok
}

// ValidateFeatures checks length and finiteness of a feature vector.
func ValidateFeatures(features []float64, want int) error {
	if len(features) != want {
		return fmt.Errorf("%w: expected %d features, got %d", ErrInvalidFeatures, want, len(features))
	}
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: feature %d is not finite", ErrInvalidFeatures, i)
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
