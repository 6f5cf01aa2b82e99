// Package dataset produces the synthetic, labeled churn dataset used to train
// the DropIQ models. Output is a pure function of the row count and seed.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"

	"dropiq-ml/internal/common"

	"gonum.org/v1/gonum/stat"
)

// Logit coefficients of the synthetic ground truth.
const (
	coefTenure  = -0.05
	coefLogins  = -0.02
	coefTickets = 0.01
	coefNPS     = -0.01
	noiseStdDev = 0.5
)

// LabeledRow is one customer observation in schema order plus its churn label.
type LabeledRow struct {
	Features [common.NumFeatures]float64 `json:"features"`
	Label    int                         `json:"label"`
}

// Generate samples rowCount rows from a PRNG seeded with seed. Columns are
// drawn one after the other so a given column does not depend on how many
// columns precede it in a row.
func Generate(rowCount int, seed int64) ([]LabeledRow, error) {
	if rowCount <= 0 {
		return nil, fmt.Errorf("row count must be positive, got %d", rowCount)
	}

	rng := rand.New(rand.NewSource(seed))
	rows := make([]LabeledRow, rowCount)

	for i := range rows {
		rows[i].Features[0] = float64(1 + rng.Intn(35)) // tenure_months in [1,36)
	}
	for i := range rows {
		rows[i].Features[1] = clip(100+40*rng.NormFloat64(), 10, 500) // mrr
	}
	for i := range rows {
		rows[i].Features[2] = float64(rng.Intn(30)) // logins_7d in [0,30)
	}
	for i := range rows {
		rows[i].Features[3] = float64(rng.Intn(10)) // tickets_30d in [0,10)
	}
	for i := range rows {
		rows[i].Features[4] = float64(rng.Intn(200) - 100) // nps in [-100,100)
	}
	for i := range rows {
		f := rows[i].Features
		logit := coefTenure*f[0] +
			coefLogins*f[2] +
			coefTickets*f[3] +
			coefNPS*f[4] +
			noiseStdDev*rng.NormFloat64()
		if sigmoid(logit) > 0.5 {
			rows[i].Label = 1
		}
	}

	return rows, nil
}

// Matrix splits rows into a feature matrix and a label vector. The feature
// slices are copies; callers may keep them.
func Matrix(rows []LabeledRow) ([][]float64, []int) {
	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		v := make([]float64, common.NumFeatures)
		copy(v, r.Features[:])
		x[i] = v
		y[i] = r.Label
	}
	return x, y
}

// PositiveRate returns the share of rows labeled as churners.
func PositiveRate(rows []LabeledRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	labels := make([]float64, len(rows))
	for i, r := range rows {
		labels[i] = float64(r.Label)
	}
	return stat.Mean(labels, nil)
}

// WriteCSV writes rows with a header in schema order followed by the label.
func WriteCSV(w io.Writer, rows []LabeledRow) error {
	cw := csv.NewWriter(w)
	header := append(common.FeatureNames(), common.LabelChurn)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range rows {
		for j, v := range r.Features {
			record[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		record[common.NumFeatures] = strconv.Itoa(r.Label)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
