package model

import (
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"

	"fttransformer/pkg/model/embedding"
	"fttransformer/pkg/model/transformerblock"
)

var (
	_ nn.Model = &Encoder{}
)

const clsStdDev = 0.05

type EncoderConfig struct {
	CategoricalFeatures    []string
	NumericalFeatures      []string
	EmbeddingDimension     int
	Depth                  int
	Heads                  int
	AttentionDropout       mat.Float
	FeedForwardDropout     mat.Float
	NumericalEmbeddingType embedding.EmbeddingType
	NumericalBins          int
	TreeParams             *embedding.TreeParams
	Explainable            bool
}

func (c EncoderConfig) Validate() error {
	if len(c.CategoricalFeatures) == 0 && len(c.NumericalFeatures) == 0 {
		return ErrNoFeatures
	}
	if c.EmbeddingDimension <= 0 || c.Depth <= 0 || c.Heads <= 0 {
		return fmt.Errorf("%w: embedding dimension %d, depth %d, heads %d", ErrInvalidConfig, c.EmbeddingDimension, c.Depth, c.Heads)
	}
	if c.EmbeddingDimension%c.Heads != 0 {
		return fmt.Errorf("%w: embedding dimension %d is not divisible by %d heads", ErrInvalidConfig, c.EmbeddingDimension, c.Heads)
	}
	return nil
}

// EncoderData is the representative data the embedders are fitted on.
// Columns follow the order of the configured feature lists.
type EncoderData struct {
	Categorical [][]mat.Float
	Numerical   [][]mat.Float
	Targets     []mat.Float
	Task        embedding.Task
}

// Encoder turns a batch of examples into token sequences [CLS, categorical..., numerical...]
// and runs them through the transformer blocks.
type Encoder struct {
	nn.BaseModel
	EncoderConfig
	CategoricalEmbedding *embedding.Categorical
	NumericalEmbedding   *embedding.Numerical
	Blocks               []*transformerblock.Model
	CLS                  nn.Param
}

type EncoderOutput struct {
	// Tokens holds the final token sequence of every example.
	Tokens [][]ag.Node
	// Importances holds, per example, the CLS attention received by every token;
	// nil unless the encoder is explainable.
	Importances []ag.Node
}

func NewEncoder(config EncoderConfig, data EncoderData) (*Encoder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Encoder{
		EncoderConfig: config,
		Blocks:        make([]*transformerblock.Model, config.Depth),
		CLS:           nn.NewParam(mat.NewEmptyVecDense(config.EmbeddingDimension)),
	}

	var err error
	if len(config.NumericalFeatures) > 0 {
		e.NumericalEmbedding, err = embedding.NewNumerical(embedding.NumericalConfig{
			Features:  config.NumericalFeatures,
			Dimension: config.EmbeddingDimension,
			Type:      config.NumericalEmbeddingType,
			Bins:      config.NumericalBins,
			Tree:      config.TreeParams,
			Task:      data.Task,
		}, data.Numerical, data.Targets)
		if err != nil {
			return nil, fmt.Errorf("error creating numerical embedding: %w", err)
		}
	}
	if len(config.CategoricalFeatures) > 0 {
		e.CategoricalEmbedding, err = embedding.NewCategorical(embedding.CategoricalConfig{
			Features:  config.CategoricalFeatures,
			Dimension: config.EmbeddingDimension,
		}, data.Categorical)
		if err != nil {
			return nil, fmt.Errorf("error creating categorical embedding: %w", err)
		}
	}

	for i := range e.Blocks {
		e.Blocks[i], err = transformerblock.New(transformerblock.Config{
			Dimension:            config.EmbeddingDimension,
			Heads:                config.Heads,
			FeedForwardDimension: config.EmbeddingDimension,
			AttentionDropout:     config.AttentionDropout,
			FeedForwardDropout:   config.FeedForwardDropout,
			Explainable:          config.Explainable,
			PostNorm:             false,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating transformer block %d: %w", i, err)
		}
	}
	return e, nil
}

func (m *Encoder) Init(generator *rand.LockedRand) {
	initializers.Normal(m.CLS.Value(), 0, clsStdDev, generator)
	if m.HasCategorical() {
		m.CategoricalEmbedding.Init(generator)
	}
	if m.HasNumerical() {
		m.NumericalEmbedding.Init(generator)
	}
	for _, block := range m.Blocks {
		block.Init(generator)
	}
}

func (m *Encoder) HasCategorical() bool {
	return m.CategoricalEmbedding != nil
}

func (m *Encoder) HasNumerical() bool {
	return m.NumericalEmbedding != nil
}

// SequenceLength is the number of tokens per example, CLS included.
func (m *Encoder) SequenceLength() int {
	return 1 + len(m.CategoricalFeatures) + len(m.NumericalFeatures)
}

// Embed builds the token sequence of every example before any transformer block.
func (m *Encoder) Embed(input Input) ([][]ag.Node, error) {
	batchSize, err := input.batchSize(m.NumericalFeatures, m.CategoricalFeatures)
	if err != nil {
		return nil, err
	}

	tokens := make([][]ag.Node, batchSize)
	for i := range tokens {
		tokens[i] = make([]ag.Node, 1, m.SequenceLength())
		tokens[i][0] = m.CLS
	}
	if m.HasCategorical() {
		if err := appendTokens(tokens, m.CategoricalEmbedding, m.CategoricalFeatures, input); err != nil {
			return nil, err
		}
	}
	if m.HasNumerical() {
		if err := appendTokens(tokens, m.NumericalEmbedding, m.NumericalFeatures, input); err != nil {
			return nil, err
		}
	}
	return tokens, nil
}

func appendTokens(tokens [][]ag.Node, embedder embedding.Embedder, features []string, input Input) error {
	rows, err := input.rows(features, len(tokens))
	if err != nil {
		return err
	}
	for i, embedded := range embedder.Encode(rows) {
		tokens[i] = append(tokens[i], embedded...)
	}
	return nil
}

func (m *Encoder) Forward(input Input) (*EncoderOutput, error) {
	tokens, err := m.Embed(input)
	if err != nil {
		return nil, err
	}

	out := &EncoderOutput{Tokens: tokens}
	if m.Explainable {
		out.Importances = make([]ag.Node, len(tokens))
	}
	for i := range tokens {
		var clsAttention []ag.Node
		for _, block := range m.Blocks {
			var attention [][]ag.Node
			tokens[i], attention = block.Forward(tokens[i])
			if m.Explainable {
				clsAttention = append(clsAttention, m.sumHeads(attention))
			}
		}
		if m.Explainable {
			out.Importances[i] = m.averageLayers(clsAttention)
		}
	}
	return out, nil
}

// sumHeads adds up the attention distribution of the CLS token (query 0) over all heads.
func (m *Encoder) sumHeads(attention [][]ag.Node) ag.Node {
	g := m.Graph()
	sum := attention[0][0]
	for h := 1; h < len(attention); h++ {
		sum = g.Add(sum, attention[h][0])
	}
	return sum
}

func (m *Encoder) averageLayers(layers []ag.Node) ag.Node {
	g := m.Graph()
	sum := layers[0]
	for _, l := range layers[1:] {
		sum = g.Add(sum, l)
	}
	return g.DivScalar(sum, g.NewScalar(mat.Float(m.Depth*m.Heads)))
}
