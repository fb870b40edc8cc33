package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func timeColumns() string {
	columns := make([]string, 16)
	for i := range columns {
		columns[i] = fmt.Sprintf("t%d", i)
	}
	return strings.Join(columns, ",")
}

func captureLog() *bytes.Buffer {
	b := bytes.NewBufferString("")
	log.Logger = zerolog.New(b)
	return b
}

func TestClassification(t *testing.T) {
	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	modelFile := filepath.Join(dir, "classification.model")
	importancesFile := filepath.Join(dir, "importances.csv")

	b := captureLog()
	trainCmd := TrainCommand()
	trainCmd.SetArgs(strings.Split(fmt.Sprintf("-i testdata/classification.train -o %s -t label -n 5 -e 8 --heads 2 --explainable "+
		"--categorical-columns color,shape --time-columns %s", modelFile, timeColumns()), " "))
	require.NoError(t, trainCmd.Execute())
	out := b.String()
	require.Contains(t, out, `"Epoch":4`)
	require.Contains(t, out, "MacroF1")
	require.NotContains(t, strings.ToLower(out), "error")

	b = captureLog()
	testCmd := TestCommand()
	testCmd.SetArgs(strings.Split(fmt.Sprintf("-m %s -i testdata/classification.test -a %s", modelFile, importancesFile), " "))
	require.NoError(t, testCmd.Execute())
	out = b.String()
	require.Contains(t, out, "MacroF1")
	require.Contains(t, out, "Mean importances")
	// The last line holds a target value never seen in training.
	require.Contains(t, out, `"Line":63`)

	file, err := os.Open(importancesFile)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Equal(t, []string{"CLS", "color", "shape", "size", "weight"}, rows[0])
	require.Equal(t, 62, len(rows))
}

func TestRegressionWithConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	modelFile := filepath.Join(dir, "regression.model")
	configFile = filepath.Join(dir, "config.yaml")
	defer func() { configFile = "" }()

	require.NoError(t, ioutil.WriteFile(configFile, []byte(`
train:
  num-epochs: 3
  embedding-dimension: 8
  heads: 2
  numerical-embedding: ple
  ple-tree-depth: 2
  regression: true
  validation-split: 0.2
  categorical-columns: [color, shape]
`), 0644))

	b := captureLog()
	trainCmd := TrainCommand()
	trainCmd.SetArgs(strings.Split(fmt.Sprintf("-i testdata/regression.train -o %s -t value -n 2 --time-columns %s",
		modelFile, timeColumns()), " "))
	require.NoError(t, trainCmd.Execute())
	out := b.String()
	// The command line wins over the config file.
	require.Contains(t, out, `"Epoch":1`)
	require.NotContains(t, out, `"Epoch":2`)
	require.Contains(t, out, `"Categorical":2`)
	require.Contains(t, out, "R-squared")

	configFile = ""
	b = captureLog()
	testCmd := TestCommand()
	testCmd.SetArgs(strings.Split(fmt.Sprintf("-m %s -i testdata/regression.test", modelFile), " "))
	require.NoError(t, testCmd.Execute())
	out = b.String()
	require.Contains(t, out, "R-squared")
	require.NotContains(t, strings.ToLower(out), "error")
}

func TestTrainRequiresTimeColumns(t *testing.T) {
	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	captureLog()
	trainCmd := TrainCommand()
	trainCmd.SilenceUsage = true
	trainCmd.SilenceErrors = true
	trainCmd.SetArgs(strings.Split(fmt.Sprintf("-i testdata/classification.train -o %s -t label --time-columns t0,t1",
		filepath.Join(dir, "m.model")), " "))
	err = trainCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "time steps")
}

func TestTrainFromConfigOnly(t *testing.T) {
	dir, err := ioutil.TempDir("", "fttransformer")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	modelFile := filepath.Join(dir, "classification.model")
	configFile = filepath.Join(dir, "config.yaml")
	defer func() { configFile = "" }()

	require.NoError(t, ioutil.WriteFile(configFile, []byte(fmt.Sprintf(`
train:
  train-file: testdata/classification.train
  output-file: %s
  target-column: label
  num-epochs: 1
  embedding-dimension: 8
  heads: 2
  categorical-columns: [color, shape]
  time-columns: [%s]
test:
  model: %s
  input: testdata/classification.test
`, modelFile, timeColumns(), modelFile)), 0644))

	b := captureLog()
	trainCmd := TrainCommand()
	trainCmd.SetArgs([]string{})
	require.NoError(t, trainCmd.Execute())
	require.Contains(t, b.String(), `"Epoch":0`)
	_, err = os.Stat(modelFile)
	require.NoError(t, err)

	b = captureLog()
	testCmd := TestCommand()
	testCmd.SetArgs([]string{})
	require.NoError(t, testCmd.Execute())
	require.Contains(t, b.String(), "MacroF1")
}

func TestTrainMissingRequiredFlags(t *testing.T) {
	captureLog()
	trainCmd := TrainCommand()
	trainCmd.SilenceUsage = true
	trainCmd.SilenceErrors = true
	trainCmd.SetArgs([]string{"-i", "testdata/classification.train"})
	err := trainCmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), `"output-file", "target-column"`)
}
