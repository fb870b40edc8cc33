package model

import (
	"errors"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"

	"fttransformer/pkg/model/embedding"
)

func newTestEncoder(t *testing.T, config EncoderConfig) *Encoder {
	encoder, err := NewEncoder(config, testEncoderData())
	require.NoError(t, err)
	encoder.Init(rand.NewLockedRand(42))
	return encoder
}

func reifyEncoder(m *Encoder) *Encoder {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	return nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Encoder)
}

func TestEncoderSequenceLength(t *testing.T) {
	encoder := newTestEncoder(t, testEncoderConfig())
	require.Equal(t, 6, encoder.SequenceLength())
	require.True(t, encoder.HasCategorical())
	require.True(t, encoder.HasNumerical())

	config := testEncoderConfig()
	config.CategoricalFeatures = nil
	encoder = newTestEncoder(t, config)
	require.Equal(t, 3, encoder.SequenceLength())
	require.False(t, encoder.HasCategorical())
}

func TestEncoderEmbedPrependsCLS(t *testing.T) {
	encoder := newTestEncoder(t, testEncoderConfig())
	tokens, err := reifyEncoder(encoder).Embed(testInput(testBatchSize))
	require.NoError(t, err)
	require.Equal(t, testBatchSize, len(tokens))
	for _, sequence := range tokens {
		require.Equal(t, 6, len(sequence))
		require.Equal(t, encoder.CLS.Value().Data(), sequence[0].Value().Data())
	}
	// The CLS token does not depend on the example.
	require.Equal(t, tokens[0][0].Value().Data(), tokens[3][0].Value().Data())
	require.NotEqual(t, tokens[0][4].Value().Data(), tokens[3][4].Value().Data())
}

func TestEncoderForward(t *testing.T) {
	embeddings := []embedding.EmbeddingType{embedding.Linear, embedding.PiecewiseLinear, embedding.Periodic}
	for _, embeddingType := range embeddings {
		config := testEncoderConfig()
		config.NumericalEmbeddingType = embeddingType
		encoder := newTestEncoder(t, config)

		output, err := reifyEncoder(encoder).Forward(testInput(testBatchSize))
		require.NoError(t, err)
		require.Equal(t, testBatchSize, len(output.Tokens))
		for _, sequence := range output.Tokens {
			require.Equal(t, 6, len(sequence))
			for _, token := range sequence {
				require.Equal(t, 8, token.Value().Rows())
				require.Equal(t, 1, token.Value().Columns())
			}
		}
		require.Equal(t, testBatchSize, len(output.Importances))
	}
}

func TestEncoderTreeBins(t *testing.T) {
	config := testEncoderConfig()
	config.NumericalEmbeddingType = embedding.PiecewiseLinear
	config.TreeParams = &embedding.TreeParams{MaxDepth: 2}
	data := testEncoderData()
	data.Task = embedding.Classification
	encoder, err := NewEncoder(config, data)
	require.NoError(t, err)
	require.Equal(t, 2, len(encoder.NumericalEmbedding.Edges))

	_, err = NewEncoder(config, EncoderData{Categorical: data.Categorical, Numerical: data.Numerical})
	require.Error(t, err)
}

func TestEncoderCategoricalOnly(t *testing.T) {
	config := testEncoderConfig()
	config.NumericalFeatures = nil
	encoder := newTestEncoder(t, config)

	input := testInput(3)
	delete(input, "n0")
	delete(input, "n1")
	output, err := reifyEncoder(encoder).Forward(input)
	require.NoError(t, err)
	require.Equal(t, 3, len(output.Tokens))
	require.Equal(t, 4, len(output.Tokens[0]))
}

func TestEncoderErrors(t *testing.T) {
	config := testEncoderConfig()
	config.CategoricalFeatures = nil
	config.NumericalFeatures = nil
	_, err := NewEncoder(config, EncoderData{})
	require.True(t, errors.Is(err, ErrNoFeatures))

	config = testEncoderConfig()
	config.Heads = 3
	_, err = NewEncoder(config, testEncoderData())
	require.True(t, errors.Is(err, ErrInvalidConfig))

	config = testEncoderConfig()
	config.NumericalEmbeddingType = "spline"
	_, err = NewEncoder(config, testEncoderData())
	require.True(t, errors.Is(err, embedding.ErrUnknownEmbeddingType))

	encoder := reifyEncoder(newTestEncoder(t, testEncoderConfig()))

	input := testInput(testBatchSize)
	delete(input, "c1")
	_, err = encoder.Forward(input)
	require.True(t, errors.Is(err, ErrMissingFeature))

	input = testInput(testBatchSize)
	delete(input, "n0")
	_, err = encoder.Forward(input)
	require.True(t, errors.Is(err, ErrMissingFeature))

	input = testInput(testBatchSize)
	input["c2"] = input["c2"][:2]
	_, err = encoder.Forward(input)
	require.True(t, errors.Is(err, ErrBatchSizeMismatch))
}

func TestInputBatchSize(t *testing.T) {
	input := Input{"a": make([]mat.Float, 5), "b": make([]mat.Float, 2)}

	size, err := input.batchSize([]string{"a"}, []string{"b"})
	require.NoError(t, err)
	require.Equal(t, 5, size)

	size, err = input.batchSize(nil, []string{"b"})
	require.NoError(t, err)
	require.Equal(t, 2, size)

	_, err = input.batchSize(nil, nil)
	require.True(t, errors.Is(err, ErrUnknownBatchSize))

	_, err = input.batchSize([]string{"c"}, nil)
	require.True(t, errors.Is(err, ErrMissingFeature))

	rows, err := Input{"a": {1, 2}, "b": {3, 4}}.rows([]string{"b", "a"}, 2)
	require.NoError(t, err)
	require.Equal(t, [][]mat.Float{{3, 1}, {4, 2}}, rows)
}
