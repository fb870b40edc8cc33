package transformerblock

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
)

var (
	_ nn.Model = &SelfAttention{}
)

// SelfAttention is multi-head scaled dot-product attention over one token sequence.
type SelfAttention struct {
	nn.BaseModel
	Dimension int
	Heads     int
	Dropout   mat.Float
	Query     *linear.Model
	Key       *linear.Model
	Value     *linear.Model
	Output    *linear.Model
}

func NewSelfAttention(dimension, heads int, dropout mat.Float) *SelfAttention {
	return &SelfAttention{
		Dimension: dimension,
		Heads:     heads,
		Dropout:   dropout,
		Query:     linear.New(dimension, dimension),
		Key:       linear.New(dimension, dimension),
		Value:     linear.New(dimension, dimension),
		Output:    linear.New(dimension, dimension),
	}
}

func (m *SelfAttention) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	for _, l := range []*linear.Model{m.Query, m.Key, m.Value, m.Output} {
		initializers.XavierUniform(l.W.Value(), gain, generator)
	}
}

// Forward returns the attended tokens and, per head, the attention distribution of
// every query token over the sequence (attention[h][i] has len(xs) entries).
func (m *SelfAttention) Forward(xs []ag.Node) ([]ag.Node, [][]ag.Node) {
	g := m.Graph()
	headDimension := m.Dimension / m.Heads
	scale := g.NewScalar(mat.Float(1.0 / math.Sqrt(float64(headDimension))))

	queries := m.Query.Forward(xs...)
	keys := m.Key.Forward(xs...)
	values := m.Value.Forward(xs...)

	attention := make([][]ag.Node, m.Heads)
	heads := make([][]ag.Node, len(xs))
	for h := 0; h < m.Heads; h++ {
		offset := h * headDimension
		k := g.Stack(splitHead(g, keys, offset, headDimension)...)
		v := g.T(g.Stack(splitHead(g, values, offset, headDimension)...))
		attention[h] = make([]ag.Node, len(xs))
		for i, q := range splitHead(g, queries, offset, headDimension) {
			probs := g.Softmax(g.ProdScalar(g.Mul(k, q), scale))
			attention[h][i] = probs
			heads[i] = append(heads[i], g.Mul(v, dropout(m.BaseModel, probs, m.Dropout)))
		}
	}

	out := make([]ag.Node, len(xs))
	for i := range out {
		out[i] = g.Concat(heads[i]...)
	}
	return m.Output.Forward(out...), attention
}

func splitHead(g *ag.Graph, xs []ag.Node, offset, size int) []ag.Node {
	out := make([]ag.Node, len(xs))
	for i, x := range xs {
		out[i] = g.View(x, offset, 0, size, 1)
	}
	return out
}
