package pkg

import (
	"github.com/rs/zerolog/log"

	"fttransformer/pkg/io"
)

func printDataErrors(errors []io.DataError) {
	for _, err := range errors {
		log.Error().Int("Line", err.Line).Str("Error", err.Error).Msg("Error parsing data")
	}
}
