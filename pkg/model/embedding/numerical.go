package embedding

import (
	"errors"
	"fmt"
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
)

var (
	_ nn.Model = &Numerical{}
	_ Embedder = &Numerical{}
)

// ErrUnknownEmbeddingType is returned for a numerical embedding strategy that is not supported.
var ErrUnknownEmbeddingType = errors.New("unknown numerical embedding type")

type EmbeddingType string

const (
	// Linear scales a learned vector per feature by the feature value and adds a learned bias.
	Linear EmbeddingType = "linear"
	// PiecewiseLinear encodes the value against quantile or tree bins and projects the code.
	PiecewiseLinear EmbeddingType = "ple"
	// Periodic projects sine and cosine features of learned frequencies.
	Periodic EmbeddingType = "periodic"
)

const (
	DefaultBins   = 10
	periodicSigma = 0.1
	twoPi         = 2 * math.Pi
)

type NumericalConfig struct {
	Features  []string
	Dimension int
	Type      EmbeddingType
	// Bins is the number of bins (ple) or frequencies (periodic).
	Bins int
	// Tree switches ple to decision tree bins; it needs targets.
	Tree *TreeParams
	Task Task
}

type Numerical struct {
	nn.BaseModel
	NumericalConfig

	// linear
	W nn.Param
	B nn.Param

	// ple
	Edges [][]mat.Float

	// periodic
	Coefficients []nn.Param

	// ple and periodic: one projection per feature
	Layers []*linear.Model
}

// NewNumerical builds a numerical embedder. columns[j] holds representative values of
// feature j, targets are only used by tree binning and may be nil otherwise.
func NewNumerical(config NumericalConfig, columns [][]mat.Float, targets []mat.Float) (*Numerical, error) {
	if len(columns) != len(config.Features) {
		return nil, fmt.Errorf("numerical embedding: expected %d data columns, got %d", len(config.Features), len(columns))
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("numerical embedding: invalid dimension %d", config.Dimension)
	}
	if config.Type == "" {
		config.Type = Linear
	}
	if config.Bins <= 0 {
		config.Bins = DefaultBins
	}

	m := &Numerical{NumericalConfig: config}
	n := len(config.Features)
	switch config.Type {
	case Linear:
		m.W = nn.NewParam(mat.NewEmptyDense(config.Dimension, n))
		m.B = nn.NewParam(mat.NewEmptyDense(config.Dimension, n))
	case PiecewiseLinear:
		useTree := config.Tree != nil
		if useTree && len(targets) == 0 {
			return nil, fmt.Errorf("numerical embedding: tree bins need targets")
		}
		m.Edges = make([][]mat.Float, n)
		m.Layers = make([]*linear.Model, n)
		for j, column := range columns {
			if useTree {
				if len(targets) != len(column) {
					return nil, fmt.Errorf("numerical embedding: %d targets for %d values of %s", len(targets), len(column), config.Features[j])
				}
				m.Edges[j] = TreeBins(column, targets, config.Task, *config.Tree)
			} else {
				m.Edges[j] = QuantileBins(column, config.Bins)
			}
			if m.Edges[j] == nil {
				return nil, fmt.Errorf("numerical embedding: no data for feature %s", config.Features[j])
			}
			m.Layers[j] = linear.New(len(m.Edges[j])-1, config.Dimension)
		}
	case Periodic:
		m.Coefficients = make([]nn.Param, n)
		m.Layers = make([]*linear.Model, n)
		for j := range columns {
			m.Coefficients[j] = nn.NewParam(mat.NewEmptyVecDense(config.Bins))
			m.Layers[j] = linear.New(2*config.Bins, config.Dimension)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmbeddingType, config.Type)
	}
	return m, nil
}

func (m *Numerical) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	switch m.Type {
	case Linear:
		initializers.XavierUniform(m.W.Value(), gain, generator)
		initializers.XavierUniform(m.B.Value(), gain, generator)
	case Periodic:
		for _, c := range m.Coefficients {
			initializers.Normal(c.Value(), 0, periodicSigma, generator)
		}
	}
	for _, layer := range m.Layers {
		initializers.XavierUniform(layer.W.Value(), initializers.Gain(ag.OpReLU), generator)
	}
}

// Encode embeds every value of every example into a column vector of Dimension.
func (m *Numerical) Encode(rows [][]mat.Float) [][]ag.Node {
	out := make([][]ag.Node, len(rows))
	for i, row := range rows {
		out[i] = make([]ag.Node, len(row))
		for j, v := range row {
			out[i][j] = m.encode(j, v)
		}
	}
	return out
}

func (m *Numerical) encode(feature int, v mat.Float) ag.Node {
	g := m.Graph()
	switch m.Type {
	case PiecewiseLinear:
		code := g.NewVariable(mat.NewVecDense(encodePiecewiseLinear(v, m.Edges[feature])), false)
		return g.ReLU(m.Layers[feature].Forward(code)[0])
	case Periodic:
		angles := g.ProdScalar(m.Coefficients[feature], g.NewScalar(twoPi*v))
		features := g.Concat(g.Sin(angles), g.Cos(angles))
		return g.ReLU(m.Layers[feature].Forward(features)[0])
	default:
		w := g.View(m.W, 0, feature, m.Dimension, 1)
		b := g.View(m.B, 0, feature, m.Dimension, 1)
		return g.Add(g.ProdScalar(w, g.NewScalar(v)), b)
	}
}
