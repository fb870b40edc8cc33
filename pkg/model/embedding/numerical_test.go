package embedding

import (
	"errors"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

var numericalColumns = [][]mat.Float{
	{0.5, 1.5, 2.5, 3.5, 4.5, 5.5},
	{-1, 0, 1, 2, 3, 4},
}

var numericalTargets = []mat.Float{0, 0, 0, 1, 1, 1}

func encodeNumerical(t *testing.T, config NumericalConfig) [][]ag.Node {
	m, err := NewNumerical(config, numericalColumns, numericalTargets)
	require.NoError(t, err)
	m.Init(rand.NewLockedRand(3))
	g := ag.NewGraph()
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m).(*Numerical)
	return proc.Encode([][]mat.Float{{1, 2}, {100, -100}, {3, 0}})
}

func TestNumericalEncode(t *testing.T) {
	configs := map[string]NumericalConfig{
		"linear":    {Type: Linear},
		"default":   {},
		"quantile":  {Type: PiecewiseLinear, Bins: 3},
		"tree":      {Type: PiecewiseLinear, Tree: &TreeParams{MaxDepth: 2}, Task: Classification},
		"periodic":  {Type: Periodic, Bins: 4},
		"many bins": {Type: PiecewiseLinear, Bins: 50},
	}
	for name, config := range configs {
		t.Run(name, func(t *testing.T) {
			config.Features = []string{"x", "y"}
			config.Dimension = 6
			out := encodeNumerical(t, config)
			require.Equal(t, 3, len(out))
			for _, tokens := range out {
				require.Equal(t, 2, len(tokens))
				for _, token := range tokens {
					require.Equal(t, 6, token.Value().Rows())
					require.Equal(t, 1, token.Value().Columns())
				}
			}
		})
	}
}

func TestNumericalLinearIsAffine(t *testing.T) {
	m, err := NewNumerical(NumericalConfig{Features: []string{"x"}, Dimension: 3}, numericalColumns[:1], nil)
	require.NoError(t, err)
	m.Init(rand.NewLockedRand(5))
	proc := nn.Reify(nn.Context{Graph: ag.NewGraph(), Mode: nn.Inference}, m).(*Numerical)
	out := proc.Encode([][]mat.Float{{0}, {2}})
	for r := 0; r < 3; r++ {
		w, b := m.W.Value().At(r, 0), m.B.Value().At(r, 0)
		require.InDelta(t, b, out[0][0].Value().Data()[r], 1e-6)
		require.InDelta(t, 2*w+b, out[1][0].Value().Data()[r], 1e-6)
	}
}

func TestNumericalEdges(t *testing.T) {
	m, err := NewNumerical(NumericalConfig{Features: []string{"x", "y"}, Dimension: 2, Type: PiecewiseLinear,
		Tree: &TreeParams{MaxDepth: 1}, Task: Classification}, numericalColumns, numericalTargets)
	require.NoError(t, err)
	require.Equal(t, []mat.Float{0.5, 3, 5.5}, m.Edges[0])
	require.Equal(t, []mat.Float{-1, 1.5, 4}, m.Edges[1])
	require.Equal(t, 2, m.Layers[0].W.Value().Columns())
}

func TestNumericalErrors(t *testing.T) {
	_, err := NewNumerical(NumericalConfig{Features: []string{"x", "y"}, Dimension: 2, Type: "spline"}, numericalColumns, nil)
	require.True(t, errors.Is(err, ErrUnknownEmbeddingType))

	_, err = NewNumerical(NumericalConfig{Features: []string{"x", "y"}, Dimension: 2, Type: PiecewiseLinear,
		Tree: &TreeParams{}}, numericalColumns, nil)
	require.Error(t, err)

	_, err = NewNumerical(NumericalConfig{Features: []string{"x"}, Dimension: 2}, numericalColumns, nil)
	require.Error(t, err)
}
