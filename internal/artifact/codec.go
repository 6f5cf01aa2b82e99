package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"dropiq-ml/internal/common"
	"dropiq-ml/internal/ml"

	"github.com/klauspost/compress/gzip"
)

// envelope is the on-disk form of a trained model. Exactly one of Forest and
// Boosted is set, matching Kind.
type envelope struct {
	Kind      ml.Kind              `json:"kind"`
	Features  []string             `json:"features"`
	CreatedAt time.Time            `json:"created_at"`
	Forest    *ml.RandomForest     `json:"forest,omitempty"`
	Boosted   *ml.GradientBoosting `json:"boosted,omitempty"`
}

// Encode serializes a tree model as gzip-compressed JSON.
func Encode(model ml.Classifier) ([]byte, error) {
	env := envelope{
		Kind:      model.Kind(),
		Features:  common.FeatureNames(),
		CreatedAt: time.Now().UTC(),
	}
	switch m := model.(type) {
	case *ml.RandomForest:
		env.Forest = m
	case *ml.GradientBoosting:
		env.Boosted = m
	default:
		return nil, fmt.Errorf("cannot persist model of kind %q", model.Kind())
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(env); err != nil {
		zw.Close()
		return nil, fmt.Errorf("encode model: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress model: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses and validates an artifact produced by Encode. Every failure
// wraps ErrArtifactCorrupt.
func Decode(r io.Reader) (ml.TreeEnsemble, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	defer zr.Close()

	var env envelope
	dec := json.NewDecoder(zr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	if err := checkSchema(env.Features); err != nil {
		return nil, err
	}

	var (
		model ml.TreeEnsemble
		trees []ml.Tree
	)
	switch env.Kind {
	case ml.KindRandomForest:
		if env.Forest == nil || env.Boosted != nil {
			return nil, fmt.Errorf("%w: %s envelope without forest payload", ErrArtifactCorrupt, env.Kind)
		}
		model, trees = env.Forest, env.Forest.Trees
	case ml.KindGradientBoosting:
		if env.Boosted == nil || env.Forest != nil {
			return nil, fmt.Errorf("%w: %s envelope without boosting payload", ErrArtifactCorrupt, env.Kind)
		}
		model, trees = env.Boosted, env.Boosted.Trees
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrArtifactCorrupt, env.Kind)
	}

	numFeatures := model.Ensemble().NumFeatures
	if numFeatures != common.NumFeatures {
		return nil, fmt.Errorf("%w: model expects %d features, schema has %d", ErrArtifactCorrupt, numFeatures, common.NumFeatures)
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("%w: model has no trees", ErrArtifactCorrupt)
	}
	for i := range trees {
		if err := trees[i].Validate(numFeatures); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrArtifactCorrupt, i, err)
		}
	}
	return model, nil
}

func checkSchema(names []string) error {
	schema := common.FeatureNames()
	if len(names) != len(schema) {
		return fmt.Errorf("%w: artifact lists %d features, schema has %d", ErrArtifactCorrupt, len(names), len(schema))
	}
	for i := range schema {
		if names[i] != schema[i] {
			return fmt.Errorf("%w: artifact feature %d is %q, expected %q", ErrArtifactCorrupt, i, names[i], schema[i])
		}
	}
	return nil
}
