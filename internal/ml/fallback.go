package ml

// ConstantModel is the stand-in served when no trained artifact exists. It
// reports the same churn probability for every input and carries no trees, so
// it cannot be explained.
type ConstantModel struct {
	Probability float64
}

// NewConstantModel returns a constant predictor for probability p.
func NewConstantModel(p float64) *ConstantModel {
	return &ConstantModel{Probability: p}
}

func (m *ConstantModel) Kind() Kind { return KindConstant }

// PredictProba ignores its input.
func (m *ConstantModel) PredictProba(_ []float64) (float64, error) {
	return m.Probability, nil
}
