// Package logging configures the diagnostic logger. Diagnostics go to
// stderr so they never mix with the JSON envelope on stdout.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New builds a structured logger at the given level. Unknown levels fall
// back to warn, keeping normal CLI runs quiet.
func New(w io.Writer, level string) zerolog.Logger {
	parsed := zerolog.WarnLevel
	switch level {
	case "debug":
		parsed = zerolog.DebugLevel
	case "info":
		parsed = zerolog.InfoLevel
	case "warn":
		parsed = zerolog.WarnLevel
	case "error":
		parsed = zerolog.ErrorLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return zerolog.New(w).Level(parsed).With().Timestamp().Logger()
}
