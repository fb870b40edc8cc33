package io

import (
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"strconv"

	mat "github.com/nlpodyssey/spago/pkg/mat32"

	"fttransformer/pkg/model"
	"fttransformer/pkg/model/embedding"
)

type DataRecord struct {
	// CategoricalFeatures contain the vocabulary indexes of the categorical features
	CategoricalFeatures []mat.Float

	// NumericalFeatures contain the numerical feature values
	NumericalFeatures []mat.Float

	// TimeFeatures contain one value per time slot
	TimeFeatures []mat.Float

	// Target contains the index or value of the target
	Target mat.Float
}

type DataBatch []*DataRecord

// Input lays the batch out feature by feature, as the model expects it.
func (b DataBatch) Input(metaData *model.Metadata) model.Input {
	input := model.Input{}
	add := func(names []string, values func(r *DataRecord) []mat.Float) {
		for j, name := range names {
			column := make([]mat.Float, len(b))
			for i, r := range b {
				column[i] = values(r)[j]
			}
			input[name] = column
		}
	}
	add(metaData.Features(model.Categorical), func(r *DataRecord) []mat.Float { return r.CategoricalFeatures })
	add(metaData.Features(model.Numerical), func(r *DataRecord) []mat.Float { return r.NumericalFeatures })
	add(metaData.Features(model.Time), func(r *DataRecord) []mat.Float { return r.TimeFeatures })
	return input
}

// EncoderData collects the columns of data in feature order, to fit the embeddings on.
func EncoderData(metaData *model.Metadata, data []*DataRecord) model.EncoderData {
	result := model.EncoderData{
		Categorical: make([][]mat.Float, metaData.CategoricalFeaturesMap.Size()),
		Numerical:   make([][]mat.Float, metaData.NumericalFeaturesMap.Size()),
		Targets:     make([]mat.Float, len(data)),
		Task:        embedding.Regression,
	}
	if metaData.TargetType == model.Categorical {
		result.Task = embedding.Classification
	}
	for j := range result.Categorical {
		result.Categorical[j] = make([]mat.Float, len(data))
	}
	for j := range result.Numerical {
		result.Numerical[j] = make([]mat.Float, len(data))
	}
	for i, r := range data {
		for j, v := range r.CategoricalFeatures {
			result.Categorical[j][i] = v
		}
		for j, v := range r.NumericalFeatures {
			result.Numerical[j][i] = v
		}
		result.Targets[i] = r.Target
	}
	return result
}

type void struct{}

var Void = void{}

type Set map[string]void

func NewSet(values ...string) Set {
	set := Set{}
	for _, val := range values {
		set[val] = Void
	}
	return set
}

type DataParameters struct {
	DataFile           string
	TargetColumn       string
	TargetType         model.ColumnType
	CategoricalColumns Set
	// TimeColumns are listed in time slot order
	TimeColumns []string
}

type DataError struct {
	Line  int
	Error string
}

// LoadData reads a CSV data file. Without metaData the column roles and vocabularies
// are built from the file; otherwise the given metaData is used to parse it.
func LoadData(p DataParameters, metaData *model.Metadata) (*model.Metadata, []*DataRecord, []DataError, error) {
	var errors []DataError
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()

	reader := csv.NewReader(inputFile)
	reader.Comma = ','

	//First line is expected to be a header
	record, err := reader.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error reading data header: %w", err)
	}

	newMetadata := false
	if metaData == nil {
		metaData = model.NewMetadata()
		newMetadata = true
		metaData.Columns = record
		metaData.TargetType = p.TargetType
		if err := setTargetColumn(p, metaData); err != nil {
			return nil, nil, nil, err
		}
		if err := buildFeatureIndex(p, metaData); err != nil {
			return nil, nil, nil, err
		}
	} else if len(record) != len(metaData.Columns) {
		return nil, nil, nil, fmt.Errorf("data header has %d columns, model expects %d", len(record), len(metaData.Columns))
	}

	var result []*DataRecord
	currentLine := 1
	for record, err = reader.Read(); err == nil; record, err = reader.Read() {
		currentLine++
		dataRecord, err := parseRecord(newMetadata, metaData, record)
		if err != nil {
			errors = append(errors, DataError{
				Line:  currentLine,
				Error: err.Error(),
			})
			continue
		}
		result = append(result, dataRecord)
	}
	if err != io.EOF {
		return nil, nil, nil, fmt.Errorf("error reading data at line %d: %w", currentLine, err)
	}

	return metaData, result, errors, nil
}

func parseRecord(newMetadata bool, metaData *model.Metadata, record []string) (*DataRecord, error) {
	target, err := parseTarget(newMetadata, metaData, record[metaData.TargetColumn])
	if err != nil {
		return nil, err
	}
	numerical, err := parseFloatFeatures(metaData, metaData.NumericalFeaturesMap, record)
	if err != nil {
		return nil, err
	}
	timeFeatures, err := parseFloatFeatures(metaData, metaData.TimeFeaturesMap, record)
	if err != nil {
		return nil, err
	}
	return &DataRecord{
		CategoricalFeatures: parseCategoricalFeatures(metaData, newMetadata, record),
		NumericalFeatures:   numerical,
		TimeFeatures:        timeFeatures,
		Target:              target,
	}, nil
}

// parseCategoricalFeatures maps values to vocabulary indexes; unknown values of an
// existing vocabulary map to the reserved index 0.
func parseCategoricalFeatures(metaData *model.Metadata, newMetadata bool, record []string) []mat.Float {
	categoricalFeatures := make([]mat.Float, metaData.CategoricalFeaturesMap.Size())
	for column, index := range metaData.CategoricalFeaturesMap.ColumnToIndex {
		vocabulary := metaData.CategoricalValues[index]
		if newMetadata {
			categoricalFeatures[index] = mat.Float(vocabulary.ValueFor(record[column]))
			continue
		}
		value, _ := vocabulary.ContainsName(record[column])
		categoricalFeatures[index] = mat.Float(value)
	}
	return categoricalFeatures
}

func parseFloatFeatures(metaData *model.Metadata, columns model.ColumnMap, record []string) ([]mat.Float, error) {
	features := make([]mat.Float, columns.Size())
	for column, index := range columns.ColumnToIndex {
		value, err := strconv.ParseFloat(record[column], 32)
		if err != nil {
			return nil, fmt.Errorf("error parsing feature %s: %w", metaData.Columns[column], err)
		}
		features[index] = mat.Float(value)
	}
	return features, nil
}

func parseTarget(newMetadata bool, metaData *model.Metadata, target string) (mat.Float, error) {
	if metaData.TargetType != model.Categorical {
		value, err := strconv.ParseFloat(target, 32)
		if err != nil {
			return 0, fmt.Errorf("error parsing target %s: %w", target, err)
		}
		return mat.Float(value), nil
	}

	if newMetadata {
		return mat.Float(metaData.ParseOrAddCategoricalTarget(target)), nil
	}
	targetValue, ok := metaData.ParseCategoricalTarget(target)
	if !ok {
		return 0, fmt.Errorf("unknown categorical target value %s", target)
	}
	return mat.Float(targetValue), nil
}

func buildFeatureIndex(p DataParameters, metaData *model.Metadata) error {
	timeSlots := map[string]int{}
	for i, col := range p.TimeColumns {
		timeSlots[col] = i
	}
	for i, col := range metaData.Columns {
		if i == metaData.TargetColumn {
			continue
		}
		_, isCategorical := p.CategoricalColumns[col]
		slot, isTime := timeSlots[col]
		switch {
		case isTime:
			metaData.TimeFeaturesMap.Set(i, slot)
			delete(timeSlots, col)
		case isCategorical:
			metaData.CategoricalFeaturesMap.Add(i)
			metaData.CategoricalValues = append(metaData.CategoricalValues, model.NewVocabulary())
		default:
			metaData.NumericalFeaturesMap.Add(i)
		}
	}
	for col := range timeSlots {
		return fmt.Errorf("time column %s not found in data header", col)
	}
	return nil
}

func setTargetColumn(p DataParameters, metaData *model.Metadata) error {
	for i, col := range metaData.Columns {
		if col == p.TargetColumn {
			metaData.TargetColumn = i
			return nil
		}
	}
	return fmt.Errorf("target column %s not found in data header", p.TargetColumn)
}

func SaveModel(model *model.Model, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	err := encoder.Encode(model)
	if err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func LoadModel(input io.Reader) (*model.Model, error) {
	decoder := gob.NewDecoder(input)
	model := model.Model{}
	err := decoder.Decode(&model)
	if err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	return &model, nil
}
