package explain

import (
	"fmt"
	"math"
	"sort"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"

	"gonum.org/v1/gonum/stat"
)

// FeatureImportance summarizes the attributions of one feature over a set of
// rows.
type FeatureImportance struct {
	Name       string  `json:"name"`
	MeanAbs    float64 `json:"mean_abs"`
	MeanSigned float64 `json:"mean_signed"`
}

// GlobalImportance explains every row and averages the attributions per
// feature. The result is ordered by descending MeanAbs; ties keep schema
// order.
func GlobalImportance(model ml.Classifier, rows [][]float64) ([]FeatureImportance, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("global importance: no rows")
	}

	signed := make([][]float64, common.NumFeatures)
	abs := make([][]float64, common.NumFeatures)
	for j := range signed {
		signed[j] = make([]float64, len(rows))
		abs[j] = make([]float64, len(rows))
	}

	for i, x := range rows {
		exp, err := Explain(model, x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for j, v := range exp.Values {
			signed[j][i] = v
			abs[j][i] = math.Abs(v)
		}
	}

	names := common.FeatureNames()
	out := make([]FeatureImportance, common.NumFeatures)
	for j := range out {
		out[j] = FeatureImportance{
			Name:       names[j],
			MeanAbs:    stat.Mean(abs[j], nil),
			MeanSigned: stat.Mean(signed[j], nil),
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].MeanAbs > out[b].MeanAbs })
	return out, nil
}
