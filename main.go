package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fttransformer/pkg"
	"fttransformer/pkg/config"
	"fttransformer/pkg/model"
	"fttransformer/pkg/model/embedding"
)

func TrainCommand() *cobra.Command {
	var trainFile string
	var outputFile string
	var targetColumn string
	var trainingParameters pkg.TrainingParameters
	var modelParameters model.Config
	var timeParameters model.Time2VecConfig
	var numericalEmbedding string
	var outputActivation string
	var treeParameters embedding.TreeParams

	var cmd = &cobra.Command{
		Use:   "train -i trainData -o outputFile -t targetColumn",
		Short: "Trains a new model on the provided training data and saves the trained model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, "train"); err != nil {
				return err
			}
			if err := requireFlags(cmd, "train-file", "output-file", "target-column"); err != nil {
				return err
			}
			modelParameters.NumericalEmbeddingType = embedding.EmbeddingType(numericalEmbedding)
			modelParameters.OutputActivation = model.Activation(outputActivation)
			if treeParameters.MaxDepth > 0 {
				modelParameters.TreeParams = &treeParameters
			}
			return pkg.Train(trainFile, outputFile, targetColumn, modelParameters, timeParameters, trainingParameters)
		},
	}

	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to.")
	cmd.Flags().StringVarP(&targetColumn, "target-column", "t", "", "target column")

	cmd.Flags().IntVarP(&trainingParameters.BatchSize, "batch-size", "b", 16, "batch size")
	cmd.Flags().Float32VarP(&trainingParameters.LearningRate, "learning-rate", "l", 0.001, "learning rate")
	cmd.Flags().Float32VarP(&trainingParameters.GradientClip, "gradient-clip", "", 2000.0, "gradient clipping threshold")
	cmd.Flags().IntVarP(&trainingParameters.ReportInterval, "report-interval", "r", 10, "loss report interval")
	cmd.Flags().IntVarP(&trainingParameters.NumEpochs, "num-epochs", "n", 10, "number of epochs to train")
	cmd.Flags().Uint64VarP(&trainingParameters.RndSeed, "random-seed", "x", 42, "random seed")
	cmd.Flags().StringSliceVarP(&trainingParameters.CategoricalColumns, "categorical-columns", "", nil, "list of columns holding categorical data")
	cmd.Flags().StringSliceVarP(&trainingParameters.TimeColumns, "time-columns", "", nil, fmt.Sprintf("list of the %d columns holding time data, in time order", model.TimeSteps))
	cmd.Flags().BoolVarP(&trainingParameters.Regression, "regression", "", false, "the target is a continuous value")
	cmd.Flags().Float64VarP(&trainingParameters.ValidationSplit, "validation-split", "", 0.0, "fraction of the data held out for evaluation")

	cmd.Flags().IntVarP(&modelParameters.EmbeddingDimension, "embedding-dimension", "e", 16, "size of feature embeddings")
	cmd.Flags().IntVarP(&modelParameters.Depth, "depth", "d", 2, "number of transformer blocks")
	cmd.Flags().IntVarP(&modelParameters.Heads, "heads", "", 4, "number of attention heads")
	cmd.Flags().Float32VarP(&modelParameters.AttentionDropout, "attention-dropout", "", 0.1, "dropout rate of attention weights")
	cmd.Flags().Float32VarP(&modelParameters.FeedForwardDropout, "feed-forward-dropout", "", 0.1, "dropout rate of the feed-forward layers")
	cmd.Flags().StringVarP(&numericalEmbedding, "numerical-embedding", "", string(embedding.Linear), "numerical embedding: linear, ple or periodic")
	cmd.Flags().IntVarP(&modelParameters.NumericalBins, "numerical-bins", "", embedding.DefaultBins, "number of bins (ple) or frequencies (periodic)")
	cmd.Flags().IntVarP(&treeParameters.MaxDepth, "ple-tree-depth", "", 0, "depth of the decision tree used for ple bins (0 uses quantile bins)")
	cmd.Flags().IntVarP(&treeParameters.MinSamplesLeaf, "ple-tree-min-samples-leaf", "", embedding.DefaultMinSamplesLeaf, "minimum samples per leaf of the ple decision tree")
	cmd.Flags().BoolVarP(&modelParameters.Explainable, "explainable", "", false, "compute feature importances from attention weights")
	cmd.Flags().IntVarP(&modelParameters.OutputDimension, "output-dimension", "k", 0, "output dimension (0 derives it from the target)")
	cmd.Flags().StringVarP(&outputActivation, "output-activation", "", string(model.Identity), "output activation: linear, sigmoid, softmax or relu")
	cmd.Flags().IntVarP(&timeParameters.KernelSize, "time-kernel-size", "", 8, "length of the periodic time representation")
	cmd.Flags().StringVarP(&timeParameters.PeriodicActivation, "periodic-activation", "", "sin", "periodic activation of the time embedding: sin or cos")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var outputFile string
	var importancesFile string

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i testFile [-o outputFile] [-a importancesOutputFile]",
		Short: "Runs the provided model on the specified data input and optionally writes the results and feature importances",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, "test"); err != nil {
				return err
			}
			if err := requireFlags(cmd, "model", "input"); err != nil {
				return err
			}
			return pkg.Test(modelFile, inputFile, outputFile, importancesFile)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of output file (optional)")
	cmd.Flags().StringVarP(&importancesFile, "importances", "a", "", "name of feature importances output file (optional, explainable models only)")

	return cmd
}

var logLevel string
var logFormat string
var configFile string

func main() {
	Main := &cobra.Command{Use: "fttransformer", PersistentPreRun: setupLogging, SilenceUsage: true}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")
	Main.PersistentFlags().StringVarP(&configFile, "config", "", "", "YAML file with default option values per command")

	Main.AddCommand(TrainCommand())
	Main.AddCommand(TestCommand())

	if err := Main.Execute(); err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}
}

func applyConfig(cmd *cobra.Command, section string) error {
	if configFile == "" {
		return nil
	}
	file, err := config.Load(configFile)
	if err != nil {
		return err
	}
	return file.Apply(section, cmd.Flags())
}

// requireFlags runs after the config file is applied, so either source may set the flags.
func requireFlags(cmd *cobra.Command, names ...string) error {
	var missing []string
	for _, name := range names {
		if cmd.Flags().Lookup(name).Value.String() == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf(`required flag(s) "%s" not set`, strings.Join(missing, `", "`))
	}
	return nil
}

func setupLogging(cmd *cobra.Command, args []string) {
	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")
	}
}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}
	}
	log.Logger = log.Output(writer)
}
