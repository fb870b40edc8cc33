package model

import (
	"fmt"
	"strings"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
)

var (
	_ nn.Model = &Time2Vec{}
)

// TimeSteps is the fixed number of time slots every example carries.
const TimeSteps = 16

const time2VecInitRange = 0.05

type Time2VecConfig struct {
	TimeFeatures       []string
	KernelSize         int
	PeriodicActivation string
}

func (c Time2VecConfig) Validate() error {
	if _, err := c.periodicFunc(); err != nil {
		return err
	}
	if c.KernelSize <= 0 {
		return fmt.Errorf("%w: time kernel size %d", ErrInvalidConfig, c.KernelSize)
	}
	if len(c.TimeFeatures) != TimeSteps {
		return fmt.Errorf("%w: got %d time features, expected %d", ErrTimeSteps, len(c.TimeFeatures), TimeSteps)
	}
	return nil
}

type periodicFunc func(g *ag.Graph, x ag.Node) ag.Node

func (c Time2VecConfig) periodicFunc() (periodicFunc, error) {
	switch {
	case strings.HasPrefix(c.PeriodicActivation, "sin"):
		return (*ag.Graph).Sin, nil
	case strings.HasPrefix(c.PeriodicActivation, "cos"):
		return (*ag.Graph).Cos, nil
	default:
		return nil, fmt.Errorf("%w: periodic activation %q is neither sine nor cosine", ErrUnsupportedActivation, c.PeriodicActivation)
	}
}

// Time2Vec embeds every time slot t as [wb*t+bb, f(t*wa+ba)] with f sine or cosine.
type Time2Vec struct {
	nn.BaseModel
	Time2VecConfig
	Wb nn.Param
	Bb nn.Param
	Wa nn.Param
	Ba nn.Param
}

func NewTime2Vec(config Time2VecConfig) (*Time2Vec, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Time2Vec{
		Time2VecConfig: config,
		Wb:             nn.NewParam(mat.NewEmptyVecDense(1)),
		Bb:             nn.NewParam(mat.NewEmptyVecDense(1)),
		Wa:             nn.NewParam(mat.NewEmptyVecDense(config.KernelSize)),
		Ba:             nn.NewParam(mat.NewEmptyVecDense(config.KernelSize)),
	}, nil
}

func (m *Time2Vec) Init(generator *rand.LockedRand) {
	for _, p := range []nn.Param{m.Wb, m.Bb, m.Wa, m.Ba} {
		initializers.Uniform(p.Value(), -time2VecInitRange, time2VecInitRange, generator)
	}
}

// Name identifies the layer by its periodic activation, e.g. Time2VecLayer_SIN.
func (m *Time2Vec) Name() string {
	return "Time2VecLayer_" + strings.ToUpper(m.PeriodicActivation)
}

// OutputSize is the length of a flattened example.
func (m *Time2Vec) OutputSize() int {
	return TimeSteps * (m.KernelSize + 1)
}

// Forward returns, for every example, TimeSteps vectors of KernelSize+1 elements.
func (m *Time2Vec) Forward(input Input) ([][]ag.Node, error) {
	f, err := m.periodicFunc()
	if err != nil {
		return nil, err
	}
	if len(m.TimeFeatures) != TimeSteps {
		return nil, fmt.Errorf("%w: got %d time features, expected %d", ErrTimeSteps, len(m.TimeFeatures), TimeSteps)
	}
	values, ok := input[m.TimeFeatures[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingFeature, m.TimeFeatures[0])
	}
	rows, err := input.rows(m.TimeFeatures, len(values))
	if err != nil {
		return nil, err
	}

	g := m.Graph()
	out := make([][]ag.Node, len(rows))
	for i, row := range rows {
		out[i] = make([]ag.Node, TimeSteps)
		for s, v := range row {
			t := g.NewScalar(v)
			bias := g.Add(g.Prod(m.Wb, t), m.Bb)
			periodic := f(g, g.Add(g.ProdScalar(m.Wa, t), m.Ba))
			out[i][s] = g.Concat(bias, periodic)
		}
	}
	return out, nil
}

// Flatten concatenates the time slots of every example.
func (m *Time2Vec) Flatten(xs [][]ag.Node) []ag.Node {
	g := m.Graph()
	out := make([]ag.Node, len(xs))
	for i, slots := range xs {
		out[i] = g.Concat(slots...)
	}
	return out
}
