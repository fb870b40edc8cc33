package model

import (
	"errors"
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
)

var (
	ErrNoFeatures           = errors.New("no categorical or numerical features")
	ErrInvalidConfig        = errors.New("invalid model configuration")
	ErrMissingFeature       = errors.New("missing feature in input")
	ErrBatchSizeMismatch    = errors.New("feature batch size mismatch")
	ErrUnknownBatchSize     = errors.New("cannot infer batch size")
	ErrMissingTimeEmbedding = errors.New("time embedding is required")
	ErrTimeSteps            = errors.New("unexpected number of time steps")
	// ErrUnsupportedActivation signals an activation that is not implemented.
	ErrUnsupportedActivation = errors.New("unsupported activation")
)

// Input maps a feature name to its value for every example of a batch.
// Categorical values are vocabulary indexes (see Metadata).
type Input map[string][]mat.Float

// batchSize takes the batch size from the first numerical feature, falling back to
// the first categorical feature.
func (in Input) batchSize(numerical, categorical []string) (int, error) {
	for _, features := range [][]string{numerical, categorical} {
		if len(features) == 0 {
			continue
		}
		values, ok := in[features[0]]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingFeature, features[0])
		}
		return len(values), nil
	}
	return 0, ErrUnknownBatchSize
}

// rows stacks the features of every example in feature order: rows[i][j] is the
// value of features[j] for example i.
func (in Input) rows(features []string, batchSize int) ([][]mat.Float, error) {
	rows := make([][]mat.Float, batchSize)
	for i := range rows {
		rows[i] = make([]mat.Float, len(features))
	}
	for j, name := range features {
		values, ok := in[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		if len(values) != batchSize {
			return nil, fmt.Errorf("%w: %s has %d values, expected %d", ErrBatchSizeMismatch, name, len(values), batchSize)
		}
		for i, v := range values {
			rows[i][j] = v
		}
	}
	return rows, nil
}
