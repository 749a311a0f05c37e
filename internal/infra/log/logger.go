package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт zerolog с полем service. В dev пишет в консоль с уровнем debug.
func NewLogger(appEnv, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	var logger zerolog.Logger
	if appEnv == "dev" {
		level = zerolog.DebugLevel
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", service).Logger()
}
