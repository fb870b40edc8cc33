package embedding

import (
	"fmt"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var (
	_ nn.Model = &Categorical{}
	_ Embedder = &Categorical{}
)

// Embedder maps the stacked feature values of every example to one token per feature.
type Embedder interface {
	Encode(rows [][]mat.Float) [][]ag.Node
}

type CategoricalConfig struct {
	Features  []string
	Dimension int
}

// Categorical holds one lookup table per categorical feature.
// Table columns are category indexes, column 0 is the out of vocabulary bucket.
type Categorical struct {
	nn.BaseModel
	CategoricalConfig
	VocabularySizes []int
	Tables          []nn.Param
}

// NewCategorical sizes the lookup tables from representative data.
// columns[j] holds the vocabulary indexes observed for feature j.
func NewCategorical(config CategoricalConfig, columns [][]mat.Float) (*Categorical, error) {
	if len(columns) != len(config.Features) {
		return nil, fmt.Errorf("categorical embedding: expected %d data columns, got %d", len(config.Features), len(columns))
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("categorical embedding: invalid dimension %d", config.Dimension)
	}
	vocabularySizes := make([]int, len(columns))
	tables := make([]nn.Param, len(columns))
	for j, column := range columns {
		for _, v := range column {
			if int(v) > vocabularySizes[j] {
				vocabularySizes[j] = int(v)
			}
		}
		tables[j] = nn.NewParam(mat.NewEmptyDense(config.Dimension, vocabularySizes[j]+1))
	}
	return &Categorical{
		CategoricalConfig: config,
		VocabularySizes:   vocabularySizes,
		Tables:            tables,
	}, nil
}

func (m *Categorical) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	for _, table := range m.Tables {
		initializers.XavierUniform(table.Value(), gain, generator)
	}
}

// Encode looks up one column vector per feature for every example.
func (m *Categorical) Encode(rows [][]mat.Float) [][]ag.Node {
	g := m.Graph()
	out := make([][]ag.Node, len(rows))
	for i, row := range rows {
		out[i] = make([]ag.Node, len(row))
		for j, v := range row {
			out[i][j] = g.View(m.Tables[j], 0, m.index(j, v), m.Dimension, 1)
		}
	}
	return out
}

func (m *Categorical) index(feature int, v mat.Float) int {
	index := int(v)
	if index < 0 || index > m.VocabularySizes[feature] {
		return 0
	}
	return index
}
