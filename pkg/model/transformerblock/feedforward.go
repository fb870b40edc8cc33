package transformerblock

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
)

var (
	_ nn.Model = &FeedForward{}
)

// FeedForward is the gated (GLU) position-wise sublayer of a block.
type FeedForward struct {
	nn.BaseModel
	HiddenDimension int
	Dropout         mat.Float
	Gate            *linear.Model
	Output          *linear.Model
}

func NewFeedForward(dimension, hiddenDimension int, dropout mat.Float) *FeedForward {
	return &FeedForward{
		HiddenDimension: hiddenDimension,
		Dropout:         dropout,
		Gate:            linear.New(dimension, 2*hiddenDimension),
		Output:          linear.New(hiddenDimension, dimension),
	}
}

func (m *FeedForward) Init(generator *rand.LockedRand) {
	initializers.XavierUniform(m.Gate.W.Value(), initializers.Gain(ag.OpSigmoid), generator)
	initializers.XavierUniform(m.Output.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

func (m *FeedForward) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()
	hidden := m.Gate.Forward(xs...)
	for i := range hidden {
		hidden[i] = dropout(m.BaseModel, glu(g, 2*m.HiddenDimension, hidden[i]), m.Dropout)
	}
	return m.Output.Forward(hidden...)
}

func glu(g *ag.Graph, dim int, x ag.Node) ag.Node {
	half := dim / 2
	value := g.View(x, 0, 0, half, 1)
	gate := g.View(x, half, 0, half, 1)
	return g.Prod(value, g.Sigmoid(gate))
}

// dropout is only active while training.
func dropout(m nn.BaseModel, x ag.Node, p mat.Float) ag.Node {
	if p <= 0 || m.Mode() != nn.Training {
		return x
	}
	return m.Graph().Dropout(x, p)
}
