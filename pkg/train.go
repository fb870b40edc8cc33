package pkg

import (
	"fmt"
	"os"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"
	"github.com/rs/zerolog/log"

	"fttransformer/pkg/io"
	"fttransformer/pkg/model"
)

type TrainingParameters struct {
	BatchSize          int
	NumEpochs          int
	LearningRate       mat.Float
	GradientClip       mat.Float
	ReportInterval     int
	RndSeed            uint64
	CategoricalColumns []string
	TimeColumns        []string
	Regression         bool
	// ValidationSplit is the fraction of the training data held out for evaluation.
	ValidationSplit float64
}

type Trainer struct {
	params    TrainingParameters
	optimizer *gd.GradientDescent
	model     *model.FTTransformer
	metaData  *model.Metadata
	lossFunc  lossFunc
	rnd       *rand.LockedRand
}

func Train(trainFile, outputFileName, targetColumn string, config model.Config, timeConfig model.Time2VecConfig,
	trainingParams TrainingParameters) error {

	targetType := model.Categorical
	if trainingParams.Regression {
		targetType = model.Numerical
	}
	metaData, records, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:           trainFile,
		TargetColumn:       targetColumn,
		TargetType:         targetType,
		CategoricalColumns: io.NewSet(trainingParams.CategoricalColumns...),
		TimeColumns:        trainingParams.TimeColumns,
	}, nil)
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}
	printDataErrors(dataErrors)
	if len(records) == 0 {
		return fmt.Errorf("no data to train")
	}

	trainSet, validationSet := splitData(records, trainingParams)

	m, err := newModel(metaData, io.EncoderData(metaData, trainSet.Records()), config, timeConfig)
	if err != nil {
		return err
	}
	m.Transformer.Init(rand.NewLockedRand(trainingParams.RndSeed))

	t := newTrainer(m, trainingParams)
	t.train(trainSet)

	outputFile, err := os.Create(outputFileName)
	if err != nil {
		return fmt.Errorf("error creating output file %s: %w", outputFileName, err)
	}
	defer outputFile.Close()
	if err := io.SaveModel(m, outputFile); err != nil {
		return fmt.Errorf("error saving model to %s: %w", outputFileName, err)
	}

	return testInternal(m, validationSet.Records(), "", "")
}

// newModel completes the configuration with what is only known after parsing the dataset.
func newModel(metaData *model.Metadata, data model.EncoderData, config model.Config, timeConfig model.Time2VecConfig) (*model.Model, error) {
	config.CategoricalFeatures = metaData.Features(model.Categorical)
	config.NumericalFeatures = metaData.Features(model.Numerical)
	timeConfig.TimeFeatures = metaData.Features(model.Time)
	if config.OutputDimension == 0 {
		config.OutputDimension = outputDimension(metaData, config.OutputActivation)
	}

	time2Vec, err := model.NewTime2Vec(timeConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating time embedding: %w", err)
	}
	transformer, err := model.New(config, data, model.Options{Time2Vec: time2Vec})
	if err != nil {
		return nil, fmt.Errorf("error creating model: %w", err)
	}
	log.Info().
		Int("Categorical", len(config.CategoricalFeatures)).
		Int("Numerical", len(config.NumericalFeatures)).
		Int("Outputs", config.OutputDimension).
		Str("TimeEmbedding", time2Vec.Name()).
		Msg("Model created")
	return &model.Model{MetaData: metaData, Transformer: transformer}, nil
}

func outputDimension(metaData *model.Metadata, activation model.Activation) int {
	if metaData.TargetType == model.Categorical && activation != model.Sigmoid {
		return metaData.NumClasses()
	}
	return 1
}

func splitData(records []*io.DataRecord, params TrainingParameters) (*io.DataSet, *io.DataSet) {
	data := io.NewDataSet(records, params.BatchSize, int64(params.RndSeed))
	validationSize := int(params.ValidationSplit * float64(len(records)))
	if validationSize <= 0 || validationSize >= len(records) {
		return data, data
	}
	splits := data.RandomSplit(len(records)-validationSize, validationSize)
	return splits[0], splits[1]
}

func newTrainer(m *model.Model, params TrainingParameters) *Trainer {
	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = params.LearningRate
	updater := adam.New(updaterConfig)
	return &Trainer{
		params:    params,
		optimizer: gd.NewOptimizer(updater, nn.NewDefaultParamsIterator(m.Transformer), gd.ClipGradByValue(params.GradientClip)),
		model:     m.Transformer,
		metaData:  m.MetaData,
		lossFunc:  lossFor(m.MetaData, m.Transformer.OutputActivation),
		rnd:       rand.NewLockedRand(params.RndSeed),
	}
}

// train runs the configured number of epochs and returns the mean loss of the last one.
func (t *Trainer) train(data *io.DataSet) mat.Float {
	var epochLoss mat.Float
	for epoch := 0; epoch < t.params.NumEpochs; epoch++ {
		t.optimizer.IncEpoch()
		data.ResetOrder(io.RandomOrder)
		epochLoss = 0
		numBatches := 0
		for batch := data.Next(); len(batch) > 0; batch = data.Next() {
			loss, err := t.trainBatch(batch)
			if err != nil {
				log.Error().Err(err).Int("Epoch", epoch).Int("Batch", numBatches).Msg("Skipping batch")
				continue
			}
			t.optimizer.Optimize()
			if t.params.ReportInterval > 0 && numBatches%t.params.ReportInterval == 0 {
				log.Debug().Int("Epoch", epoch).Int("Batch", numBatches).Float32("Loss", loss).Msg("")
			}
			epochLoss += loss
			numBatches++
		}
		if numBatches > 0 {
			epochLoss /= mat.Float(numBatches)
		}
		log.Info().Int("Epoch", epoch).Float32("Loss", epochLoss).Msg("")
	}
	return epochLoss
}

func (t *Trainer) trainBatch(batch io.DataBatch) (mat.Float, error) {
	t.optimizer.IncBatch()

	g := ag.NewGraph(ag.Rand(t.rnd))
	defer g.Clear()
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, t.model).(*model.FTTransformer)
	output, err := proc.Forward(batch.Input(t.metaData))
	if err != nil {
		return 0, err
	}

	var loss ag.Node
	for i, r := range batch {
		exampleLoss := t.lossFunc(g, output.Prediction[i], r.Target)
		if loss == nil {
			loss = exampleLoss
		} else {
			loss = g.Add(loss, exampleLoss)
		}
	}
	loss = g.DivScalar(loss, g.NewScalar(mat.Float(len(batch))))

	g.Backward(loss)
	return loss.ScalarValue(), nil
}
