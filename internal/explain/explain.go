// Package explain computes exact per-feature Shapley attributions for the
// tree ensembles of the ml package.
package explain

import (
	"errors"
	"fmt"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"
)

var (
	// ErrIncompatibleModel is returned for classifiers that do not expose
	// decision trees, such as the constant fallback.
	ErrIncompatibleModel = errors.New("model does not support tree explanations")
	// ErrAttributionMisaligned means the attribution vector does not line up
	// with the input feature schema.
	ErrAttributionMisaligned = errors.New("attribution misaligned with feature schema")
)

// Explanation holds the attribution of one prediction. Values[i] belongs to
// Features[i]; Sum(Values) + BaseValue is the model's raw positive-class
// output (a probability for the forest, a log-odds margin for boosting).
type Explanation struct {
	Values    []float64 `json:"values"`
	BaseValue float64   `json:"base_value"`
	Features  []string  `json:"-"`
}

// Sum returns BaseValue plus every attribution.
func (e *Explanation) Sum() float64 {
	total := e.BaseValue
	for _, v := range e.Values {
		total += v
	}
	return total
}

// classAttribution is the attribution set of one output class.
type classAttribution struct {
	values []float64
	base   float64
}

const positiveClass = 1

// Explain attributes the positive-class output of model at features to the
// individual features.
func Explain(model ml.Classifier, features []float64) (*Explanation, error) {
	te, ok := model.(ml.TreeEnsemble)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIncompatibleModel, model.Kind())
	}
	ens := te.Ensemble()
	if err := ml.ValidateFeatures(features, ens.NumFeatures); err != nil {
		return nil, err
	}

	classes := attribute(ens, features)
	selected := classes[0]
	if len(classes) > 1 {
		selected = classes[positiveClass]
	}

	exp := &Explanation{
		Values:    selected.values,
		BaseValue: selected.base,
		Features:  common.FeatureNames(),
	}
	if err := checkAlignment(exp, features); err != nil {
		return nil, err
	}
	return exp, nil
}

// attribute runs TreeSHAP over every tree. Probability ensembles yield one
// set per class, log-odds ensembles a single margin set.
func attribute(ens ml.Ensemble, features []float64) []classAttribution {
	phi := make([]float64, ens.NumFeatures)
	var expected float64
	for i := range ens.Trees {
		treeSHAP(&ens.Trees[i], features, phi, ens.Weight)
		expected += ens.Trees[i].ExpectedValue()
	}
	base := ens.Bias + ens.Weight*expected

	if ens.Output == ml.OutputLogOdds {
		return []classAttribution{{values: phi, base: base}}
	}

	negative := make([]float64, len(phi))
	for i, v := range phi {
		negative[i] = -v
	}
	return []classAttribution{
		{values: negative, base: 1 - base},
		{values: phi, base: base},
	}
}

func checkAlignment(exp *Explanation, features []float64) error {
	if len(exp.Values) != len(features) {
		return fmt.Errorf("%w: %d values for %d features", ErrAttributionMisaligned, len(exp.Values), len(features))
	}
	schema := common.FeatureNames()
	if len(exp.Features) != len(schema) {
		return fmt.Errorf("%w: %d names for %d schema columns", ErrAttributionMisaligned, len(exp.Features), len(schema))
	}
	for i := range schema {
		if exp.Features[i] != schema[i] {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrAttributionMisaligned, i, exp.Features[i], schema[i])
		}
	}
	return nil
}
