package ml

import (
	"fmt"
	"strings"
)

var reportNames = map[Kind]string{
	KindRandomForest:     "RandomForest",
	KindGradientBoosting: "GradientBoosting",
}

// TrainingReport is the human-readable summary written next to the model.
type TrainingReport struct {
	Candidates []CandidateMetrics
	Selected   CandidateMetrics
}

// NewTrainingReport builds the report of a training run.
func NewTrainingReport(r *TrainResult) TrainingReport {
	candidates := make([]CandidateMetrics, len(r.Candidates))
	copy(candidates, r.Candidates)
	return TrainingReport{Candidates: candidates, Selected: r.Selected}
}

// String renders the report. Metrics use three decimals.
func (r TrainingReport) String() string {
	var b strings.Builder
	b.WriteString("# DROPIQ Training Report\n\n")
	for _, c := range r.Candidates {
		fmt.Fprintf(&b, "%s F1: %.3f, AUC: %.3f\n\n", displayName(c.Kind), c.F1, c.AUC)
	}
	fmt.Fprintf(&b, "**Selected model** (%s) F1: %.3f, AUC: %.3f\n", displayName(r.Selected.Kind), r.Selected.F1, r.Selected.AUC)
	return b.String()
}

// Bytes is String as a byte slice, ready to persist.
func (r TrainingReport) Bytes() []byte {
	return []byte(r.String())
}

func displayName(k Kind) string {
	if name, ok := reportNames[k]; ok {
		return name
	}
	return string(k)
}
