package pkg

import (
	"encoding/csv"
	"fmt"
	gio "io"
	"os"
	"sort"
	"strconv"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"fttransformer/pkg/io"
	"fttransformer/pkg/model"
)

const testBatchSize = 32

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func Test(modelFileName, inputFileName, outputFileName, importancesFileName string) error {
	modelFile, err := os.Open(modelFileName)
	if err != nil {
		return fmt.Errorf("error opening model file %s: %w", modelFileName, err)
	}
	defer modelFile.Close()

	m, err := io.LoadModel(modelFile)
	if err != nil {
		return fmt.Errorf("error loading model from file %s: %w", modelFileName, err)
	}
	_, data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:     inputFileName,
		TargetColumn: m.MetaData.TargetName(),
	}, m.MetaData)
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	printDataErrors(dataErrors)
	if len(data) == 0 {
		return fmt.Errorf("no data to test")
	}
	return testInternal(m, data, outputFileName, importancesFileName)
}

type modelEvaluator interface {
	EvaluatePrediction(prediction ag.Node, record *io.DataRecord)
	LogMetrics()
	Loss() float64
}

type classificationEvaluator struct {
	predictionCount int
	loss            float64
	metrics         map[string]*stats.ClassMetrics
	model           *model.Model
	lossFunc        lossFunc
	g               *ag.Graph
	outputWriter    gio.Writer
}

type classificationPrediction struct {
	predictedClass string
	label          string
	score          mat.Float
}

func (c *classificationEvaluator) EvaluatePrediction(node ag.Node, record *io.DataRecord) {
	prediction := c.decode(node, record)
	c.loss += float64(c.lossFunc(c.g, c.g.NewVariable(node.Value().Clone(), false), record.Target).ScalarValue())
	c.predictionCount++

	fmt.Fprintf(c.outputWriter, "%s,%s,%.5f\n", prediction.label, prediction.predictedClass, prediction.score)

	labelClassMetrics := c.classMetrics(prediction.label)
	predictedClassMetrics := c.classMetrics(prediction.predictedClass)
	if prediction.label == prediction.predictedClass {
		labelClassMetrics.IncTruePos()
	} else {
		labelClassMetrics.IncFalseNeg()
		predictedClassMetrics.IncFalsePos()
	}
}

func (c *classificationEvaluator) classMetrics(class string) *stats.ClassMetrics {
	metrics, ok := c.metrics[class]
	if !ok {
		metrics = stats.NewMetricCounter()
		c.metrics[class] = metrics
	}
	return metrics
}

func (c *classificationEvaluator) LogMetrics() {
	// Sort class names for deterministic output
	for _, class := range sortClasses(c.metrics) {
		result := c.metrics[class]
		log.Info().Str("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float32("Precision", result.Precision()).
			Float32("Recall", result.Recall()).
			Float32("F1", result.F1Score()).
			Msg("")
	}

	macroF1, microF1 := computeOverallF1(c.metrics)
	log.Info().Float32("MacroF1", macroF1).Float32("MicroF1", microF1).Msg("")
}

func (c *classificationEvaluator) Loss() float64 {
	return c.loss / float64(c.predictionCount)
}

// decode reads a single sigmoid output as the probability of class 1, otherwise
// the class with the highest score.
func (c *classificationEvaluator) decode(modelOutput ag.Node, record *io.DataRecord) classificationPrediction {
	scores := modelOutput.Value().Data()
	class, score := argmax(scores)
	if len(scores) == 1 {
		class, score = 0, scores[0]
		if scores[0] >= 0.5 {
			class = 1
		}
	}
	targets := c.model.MetaData.TargetMap.IndexToName
	return classificationPrediction{
		predictedClass: targets[class],
		label:          targets[int(record.Target)],
		score:          score,
	}
}

func testInternal(m *model.Model, data []*io.DataRecord, outputFileName, importancesFileName string) error {
	outputWriter, closeOutput, err := createWriter(outputFileName)
	if err != nil {
		return err
	}
	defer closeOutput()

	lossFunc := lossFor(m.MetaData, m.Transformer.OutputActivation)
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))

	var evaluator modelEvaluator
	switch m.MetaData.TargetType {
	case model.Categorical:
		evaluator = &classificationEvaluator{
			metrics:      map[string]*stats.ClassMetrics{},
			model:        m,
			lossFunc:     lossFunc,
			g:            g,
			outputWriter: outputWriter,
		}
	default:
		evaluator = &regressionEvaluator{
			lossFunc:     lossFunc,
			g:            g,
			outputWriter: outputWriter,
		}
	}

	var importances *importanceCollector
	if m.Transformer.Explainable {
		importances = newImportanceCollector(m.Transformer.Encoder)
	}

	dataSet := io.NewDataSet(data, testBatchSize, 0)
	for batch := dataSet.Next(); len(batch) > 0; batch = dataSet.Next() {
		output, err := predict(g, m, batch)
		if err != nil {
			return fmt.Errorf("error predicting: %w", err)
		}
		for i, prediction := range output.Prediction {
			evaluator.EvaluatePrediction(prediction, batch[i])
		}
		if importances != nil {
			importances.add(output.Importances)
		}
		g.Clear()
	}
	evaluator.LogMetrics()
	log.Info().Float64("Loss", evaluator.Loss()).Msg("")

	if importances != nil {
		importances.logMeans()
		if importancesFileName != "" {
			return importances.save(importancesFileName)
		}
	}
	return nil
}

func createWriter(fileName string) (gio.Writer, func(), error) {
	if fileName == "" {
		return NoopWriter{}, func() {}, nil
	}
	file, err := os.Create(fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening output file %s: %w", fileName, err)
	}
	return file, func() { file.Close() }, nil
}

func computeOverallF1(metrics map[string]*stats.ClassMetrics) (mat.Float, mat.Float) {
	var macroF1 mat.Float
	for _, metric := range metrics {
		macroF1 += metric.F1Score()
	}
	macroF1 /= mat.Float(len(metrics))

	micro := stats.NewMetricCounter()
	for _, result := range metrics {
		micro.TruePos += result.TruePos
		micro.FalsePos += result.FalsePos
		micro.FalseNeg += result.FalseNeg
		micro.TrueNeg += result.TrueNeg
	}
	return macroF1, micro.F1Score()
}

func sortClasses(metrics map[string]*stats.ClassMetrics) []string {
	result := make([]string, 0, len(metrics))
	for class := range metrics {
		result = append(result, class)
	}
	sort.Strings(result)
	return result
}

type regressionEvaluator struct {
	loss            float64
	predictionCount int
	estimated       []float64
	values          []float64
	lossFunc        lossFunc
	g               *ag.Graph
	outputWriter    gio.Writer
}

func (r *regressionEvaluator) EvaluatePrediction(prediction ag.Node, record *io.DataRecord) {
	value := prediction.Value().Data()[0]
	log.Debug().Float32("Target", record.Target).Float32("Prediction", value).Msg("")
	fmt.Fprintf(r.outputWriter, "%f,%f\n", record.Target, value)

	r.estimated = append(r.estimated, float64(value))
	r.values = append(r.values, float64(record.Target))
	r.loss += float64(r.lossFunc(r.g, r.g.NewVariable(prediction.Value().Clone(), false), record.Target).ScalarValue())
	r.predictionCount++
}

func (r *regressionEvaluator) LogMetrics() {
	r2 := stat.RSquaredFrom(r.estimated, r.values, nil)
	log.Info().Float64("R-squared", r2).Msg("")
}

func (r *regressionEvaluator) Loss() float64 {
	return r.loss / float64(r.predictionCount)
}

func predict(g *ag.Graph, m *model.Model, batch io.DataBatch) (*model.Output, error) {
	ctx := nn.Context{Graph: g, Mode: nn.Inference}
	proc := nn.Reify(ctx, m.Transformer).(*model.FTTransformer)
	return proc.Forward(batch.Input(m.MetaData))
}

func argmax(data []mat.Float) (int, mat.Float) {
	maxInd := 0
	for i := range data {
		if data[i] > data[maxInd] {
			maxInd = i
		}
	}
	return maxInd, data[maxInd]
}

// importanceCollector gathers the per-token importances of every example.
type importanceCollector struct {
	tokens []string
	rows   [][]mat.Float
}

func newImportanceCollector(encoder *model.Encoder) *importanceCollector {
	tokens := append([]string{"CLS"}, encoder.CategoricalFeatures...)
	return &importanceCollector{tokens: append(tokens, encoder.NumericalFeatures...)}
}

func (c *importanceCollector) add(importances []ag.Node) {
	for _, node := range importances {
		row := make([]mat.Float, len(c.tokens))
		copy(row, node.Value().Data())
		c.rows = append(c.rows, row)
	}
}

func (c *importanceCollector) means() []mat.Float {
	means := make([]mat.Float, len(c.tokens))
	for _, row := range c.rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= mat.Float(len(c.rows))
	}
	return means
}

func (c *importanceCollector) logMeans() {
	event := log.Info()
	for j, mean := range c.means() {
		event = event.Float32(c.tokens[j], mean)
	}
	event.Msg("Mean importances")
}

func (c *importanceCollector) save(fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error opening importances file %s: %w", fileName, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(c.tokens); err != nil {
		return fmt.Errorf("error writing importances: %w", err)
	}
	record := make([]string, len(c.tokens))
	for _, row := range c.rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(float64(v), 'f', 5, 32)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("error writing importances: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
