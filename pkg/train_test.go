package pkg

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/stretchr/testify/require"

	"fttransformer/pkg/io"
	"fttransformer/pkg/model"
)

func timeColumns() []string {
	columns := make([]string, model.TimeSteps)
	for i := range columns {
		columns[i] = fmt.Sprintf("t%d", i)
	}
	return columns
}

func testConfig() (model.Config, model.Time2VecConfig) {
	config := model.Config{
		EncoderConfig: model.EncoderConfig{
			EmbeddingDimension: 8,
			Depth:              1,
			Heads:              2,
			Explainable:        true,
		},
		OutputActivation: model.Identity,
	}
	return config, model.Time2VecConfig{KernelSize: 2, PeriodicActivation: "sin"}
}

func loadClassification(t *testing.T) (*model.Metadata, []*io.DataRecord) {
	metaData, data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:           "../testdata/classification.train",
		TargetColumn:       "label",
		TargetType:         model.Categorical,
		CategoricalColumns: io.NewSet("color", "shape"),
		TimeColumns:        timeColumns(),
	}, nil)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	return metaData, data
}

func TestTrainerReducesLoss(t *testing.T) {
	metaData, data := loadClassification(t)
	config, timeConfig := testConfig()
	m, err := newModel(metaData, io.EncoderData(metaData, data), config, timeConfig)
	require.NoError(t, err)
	require.Equal(t, 2, m.Transformer.OutputDimension)
	require.Equal(t, []string{"color", "shape"}, m.Transformer.Encoder.CategoricalFeatures)
	m.Transformer.Init(rand.NewLockedRand(42))

	params := TrainingParameters{BatchSize: 16, NumEpochs: 1, LearningRate: 0.005, GradientClip: 100, RndSeed: 42}
	trainer := newTrainer(m, params)
	dataSet := io.NewDataSet(data, params.BatchSize, 42)
	first := trainer.train(dataSet)

	trainer.params.NumEpochs = 5
	last := trainer.train(dataSet)
	require.True(t, last < first)
}

func TestTrainAndTest(t *testing.T) {
	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	modelFile := filepath.Join(dir, "model")
	outputFile := filepath.Join(dir, "output.csv")
	importancesFile := filepath.Join(dir, "importances.csv")

	config, timeConfig := testConfig()
	config.OutputActivation = model.Sigmoid
	err = Train("../testdata/classification.train", modelFile, "label", config, timeConfig, TrainingParameters{
		BatchSize:          32,
		NumEpochs:          2,
		LearningRate:       0.001,
		GradientClip:       100,
		RndSeed:            1,
		CategoricalColumns: []string{"color", "shape"},
		TimeColumns:        timeColumns(),
		ValidationSplit:    0.25,
	})
	require.NoError(t, err)

	require.NoError(t, Test(modelFile, "../testdata/classification.test", outputFile, importancesFile))
	output, err := ioutil.ReadFile(outputFile)
	require.NoError(t, err)
	require.NotEmpty(t, output)
	importances, err := ioutil.ReadFile(importancesFile)
	require.NoError(t, err)
	require.Contains(t, string(importances), "CLS,color,shape,size,weight\n")
}

func TestOutputDimension(t *testing.T) {
	metaData, _ := loadClassification(t)
	require.Equal(t, 2, outputDimension(metaData, model.Identity))
	require.Equal(t, 2, outputDimension(metaData, model.Softmax))
	require.Equal(t, 1, outputDimension(metaData, model.Sigmoid))
	metaData.TargetType = model.Numerical
	require.Equal(t, 1, outputDimension(metaData, model.Identity))
}

func TestSplitData(t *testing.T) {
	_, data := loadClassification(t)
	train, validation := splitData(data, TrainingParameters{BatchSize: 8, ValidationSplit: 0.25})
	require.Equal(t, 180, train.Size())
	require.Equal(t, 60, validation.Size())

	train, validation = splitData(data, TrainingParameters{BatchSize: 8})
	require.True(t, train == validation)
	require.Equal(t, 240, train.Size())
}

func TestLosses(t *testing.T) {
	g := ag.NewGraph()
	classification := &model.Metadata{TargetType: model.Categorical}

	loss := lossFor(classification, model.Softmax)(g, g.NewVariable(mat.NewVecDense([]mat.Float{0.25, 0.75}), false), 1)
	require.InDelta(t, 0.2877, loss.ScalarValue(), 1e-3)

	loss = lossFor(classification, model.Sigmoid)(g, g.NewScalar(0.8), 0)
	require.InDelta(t, 1.6094, loss.ScalarValue(), 1e-3)

	loss = lossFor(classification, model.Identity)(g, g.NewVariable(mat.NewVecDense([]mat.Float{0, 0}), false), 0)
	require.InDelta(t, 0.6931, loss.ScalarValue(), 1e-3)

	regression := lossFor(&model.Metadata{TargetType: model.Numerical}, model.Identity)
	near := regression(g, g.NewScalar(2), 1).ScalarValue()
	far := regression(g, g.NewScalar(3), 1).ScalarValue()
	require.True(t, near > 0)
	require.InDelta(t, 4.0, far/near, 1e-5)
}

func TestComputeOverallF1(t *testing.T) {
	a := stats.NewMetricCounter()
	a.TruePos, a.FalsePos, a.FalseNeg = 8, 2, 2
	b := stats.NewMetricCounter()
	b.TruePos, b.FalsePos, b.FalseNeg = 2, 2, 2
	macro, micro := computeOverallF1(map[string]*stats.ClassMetrics{"a": a, "b": b})
	require.InDelta(t, 0.65, macro, 1e-5)
	require.InDelta(t, 10.0/14.0, micro, 1e-5)
}

func TestArgmax(t *testing.T) {
	index, value := argmax([]mat.Float{0.1, 0.7, 0.2})
	require.Equal(t, 1, index)
	require.Equal(t, mat.Float(0.7), value)
}

func TestImportanceCollector(t *testing.T) {
	g := ag.NewGraph()
	c := &importanceCollector{tokens: []string{"CLS", "a", "b"}}
	c.add([]ag.Node{
		g.NewVariable(mat.NewVecDense([]mat.Float{0.2, 0.3, 0.5}), false),
		g.NewVariable(mat.NewVecDense([]mat.Float{0.4, 0.5, 0.1}), false),
	})
	means := c.means()
	require.InDelta(t, 0.3, means[0], 1e-6)
	require.InDelta(t, 0.4, means[1], 1e-6)
	require.InDelta(t, 0.3, means[2], 1e-6)

	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	fileName := filepath.Join(dir, "importances.csv")
	require.NoError(t, c.save(fileName))
	content, err := ioutil.ReadFile(fileName)
	require.NoError(t, err)
	require.Equal(t, "CLS,a,b\n0.20000,0.30000,0.50000\n0.40000,0.50000,0.10000\n", string(content))
}
