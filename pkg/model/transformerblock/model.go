// Package transformerblock implements the transformer encoder block used on
// tabular token sequences, in pre-norm or post-norm arrangement.
package transformerblock

import (
	"errors"
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"
)

var (
	_ nn.Model = &Model{}
)

var ErrInvalidConfig = errors.New("invalid transformer block configuration")

type Config struct {
	Dimension            int
	Heads                int
	FeedForwardDimension int
	AttentionDropout     mat.Float
	FeedForwardDropout   mat.Float
	// Explainable makes Forward return the attention weights.
	Explainable bool
	// PostNorm normalizes after each residual sum instead of before each sublayer.
	PostNorm bool
}

type Model struct {
	nn.BaseModel
	Config
	Attention       *SelfAttention
	AttentionNorm   *layernorm.Model
	FeedForward     *FeedForward
	FeedForwardNorm *layernorm.Model
}

func New(config Config) (*Model, error) {
	if config.Dimension <= 0 || config.Heads <= 0 || config.FeedForwardDimension <= 0 {
		return nil, fmt.Errorf("%w: dimension %d, heads %d, feed-forward dimension %d",
			ErrInvalidConfig, config.Dimension, config.Heads, config.FeedForwardDimension)
	}
	if config.Dimension%config.Heads != 0 {
		return nil, fmt.Errorf("%w: dimension %d is not divisible by %d heads", ErrInvalidConfig, config.Dimension, config.Heads)
	}
	return &Model{
		Config:          config,
		Attention:       NewSelfAttention(config.Dimension, config.Heads, config.AttentionDropout),
		AttentionNorm:   layernorm.New(config.Dimension),
		FeedForward:     NewFeedForward(config.Dimension, config.FeedForwardDimension, config.FeedForwardDropout),
		FeedForwardNorm: layernorm.New(config.Dimension),
	}, nil
}

func (m *Model) Init(generator *rand.LockedRand) {
	m.Attention.Init(generator)
	m.FeedForward.Init(generator)
	initializers.Constant(m.AttentionNorm.W.Value(), 1.0)
	initializers.Constant(m.FeedForwardNorm.W.Value(), 1.0)
}

// Forward transforms one token sequence. The attention weights (per head, per query
// token) are only returned when the block is explainable.
func (m *Model) Forward(xs []ag.Node) ([]ag.Node, [][]ag.Node) {
	var ys []ag.Node
	var attention [][]ag.Node
	if m.PostNorm {
		ys, attention = m.postNorm(xs)
	} else {
		ys, attention = m.preNorm(xs)
	}
	if !m.Explainable {
		return ys, nil
	}
	return ys, attention
}

func (m *Model) preNorm(xs []ag.Node) ([]ag.Node, [][]ag.Node) {
	attended, attention := m.Attention.Forward(m.AttentionNorm.Forward(xs...))
	h := m.residual(xs, attended)
	transformed := m.feedForward(m.FeedForwardNorm.Forward(h...))
	return m.residual(h, transformed), attention
}

func (m *Model) postNorm(xs []ag.Node) ([]ag.Node, [][]ag.Node) {
	attended, attention := m.Attention.Forward(xs)
	h := m.AttentionNorm.Forward(m.residual(xs, attended)...)
	transformed := m.feedForward(h)
	return m.FeedForwardNorm.Forward(m.residual(h, transformed)...), attention
}

// feedForward drops sublayer outputs at the feed-forward rate. The attention
// rate only applies to the attention weights.
func (m *Model) feedForward(xs []ag.Node) []ag.Node {
	ys := m.FeedForward.Forward(xs...)
	for i, y := range ys {
		ys[i] = dropout(m.BaseModel, y, m.FeedForwardDropout)
	}
	return ys
}

func (m *Model) residual(xs, ys []ag.Node) []ag.Node {
	g := m.Graph()
	out := make([]ag.Node, len(xs))
	for i := range xs {
		out[i] = g.Add(xs[i], ys[i])
	}
	return out
}
