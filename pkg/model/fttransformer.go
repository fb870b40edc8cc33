package model

import (
	"fmt"

	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"
)

var (
	_ nn.Model = &FTTransformer{}
)

type Activation string

const (
	Identity Activation = "linear"
	Sigmoid  Activation = "sigmoid"
	Softmax  Activation = "softmax"
	ReLU     Activation = "relu"
)

func (a Activation) Validate() error {
	switch a {
	case Identity, "identity", "", Sigmoid, Softmax, ReLU:
		return nil
	default:
		return fmt.Errorf("%w: output activation %q", ErrUnsupportedActivation, a)
	}
}

func (a Activation) apply(g *ag.Graph, x ag.Node) ag.Node {
	switch a {
	case Sigmoid:
		return g.Sigmoid(x)
	case Softmax:
		return g.Softmax(x)
	case ReLU:
		return g.ReLU(x)
	default:
		return x
	}
}

type Config struct {
	EncoderConfig
	OutputDimension  int
	OutputActivation Activation
}

// Options carries the pre-built components of an FTTransformer.
type Options struct {
	// Encoder is shared instead of building a new one from the configuration.
	Encoder *Encoder
	// Time2Vec is required.
	Time2Vec *Time2Vec
}

// FTTransformer is an implementation of the FT-Transformer of:
// "Revisiting Deep Learning Models for Tabular Data" - https://arxiv.org/abs/2106.11959
// extended with a Time2Vec embedding fused before the output layer.
type FTTransformer struct {
	nn.BaseModel
	Config
	SharedEncoder    bool
	Encoder          *Encoder
	Time2Vec         *Time2Vec
	LayerNorm        *layernorm.Model
	FinalFeedForward *linear.Model
	OutputLayer      *linear.Model
}

// Output is the result of a forward pass. Importances is nil unless the encoder is explainable.
type Output struct {
	Prediction  []ag.Node
	Importances []ag.Node
}

func New(config Config, data EncoderData, opts Options) (*FTTransformer, error) {
	if opts.Time2Vec == nil {
		return nil, ErrMissingTimeEmbedding
	}
	if config.OutputDimension <= 0 {
		return nil, fmt.Errorf("%w: output dimension %d", ErrInvalidConfig, config.OutputDimension)
	}
	if err := config.OutputActivation.Validate(); err != nil {
		return nil, err
	}

	encoder := opts.Encoder
	if encoder == nil {
		var err error
		if encoder, err = NewEncoder(config.EncoderConfig, data); err != nil {
			return nil, err
		}
	} else {
		config.EncoderConfig = encoder.EncoderConfig
	}

	hidden := config.EmbeddingDimension / 2
	return &FTTransformer{
		Config:           config,
		SharedEncoder:    opts.Encoder != nil,
		Encoder:          encoder,
		Time2Vec:         opts.Time2Vec,
		LayerNorm:        layernorm.New(config.EmbeddingDimension),
		FinalFeedForward: linear.New(config.EmbeddingDimension, hidden),
		OutputLayer:      linear.New(hidden+opts.Time2Vec.OutputSize(), config.OutputDimension),
	}, nil
}

// Init initializes the parameters; a shared encoder keeps its current values.
func (m *FTTransformer) Init(generator *rand.LockedRand) {
	if !m.SharedEncoder {
		m.Encoder.Init(generator)
	}
	m.Time2Vec.Init(generator)
	initializers.Constant(m.LayerNorm.W.Value(), 1.0)
	initializers.XavierUniform(m.FinalFeedForward.W.Value(), initializers.Gain(ag.OpReLU), generator)
	initializers.XavierUniform(m.OutputLayer.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

func (m *FTTransformer) Forward(input Input) (*Output, error) {
	g := m.Graph()

	encoded, err := m.Encoder.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("error encoding input: %w", err)
	}
	timeEmbedding, err := m.Time2Vec.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("error embedding time features: %w", err)
	}
	if len(timeEmbedding) != len(encoded.Tokens) {
		return nil, fmt.Errorf("%w: %d time rows for %d examples", ErrBatchSizeMismatch, len(timeEmbedding), len(encoded.Tokens))
	}
	flatTime := m.Time2Vec.Flatten(timeEmbedding)

	out := &Output{
		Prediction:  make([]ag.Node, len(encoded.Tokens)),
		Importances: encoded.Importances,
	}
	for i, tokens := range encoded.Tokens {
		cls := m.LayerNorm.Forward(tokens[0])[0]
		cls = g.ReLU(m.FinalFeedForward.Forward(cls)[0])
		logits := m.OutputLayer.Forward(g.Concat(cls, flatTime[i]))[0]
		out.Prediction[i] = m.OutputActivation.apply(g, logits)
	}
	return out, nil
}
