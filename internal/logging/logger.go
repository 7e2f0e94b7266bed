// Package logging wires the global zerolog logger, grounded on
// pkg/logger's package-level Log var and InitLogger(isDevelopment) split
// between a human-friendly console writer and structured JSON output.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. It starts disabled until Init runs, so
// any package-init-time logging calls are silently dropped rather than
// panicking on a nil writer.
var Log zerolog.Logger = zerolog.New(nil).Level(zerolog.Disabled)

// Init configures the global logger. In development mode it writes
// human-readable console output; otherwise plain structured JSON to
// stdout, suited to container log collection.
func Init(development bool, level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	zerolog.SetGlobalLevel(level)

	if development {
		Log = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000000",
		}).With().Timestamp().Caller().Logger()
		return
	}

	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Get returns the global logger, for handing to components that take a
// zerolog.Logger value rather than importing this package directly.
func Get() *zerolog.Logger {
	return &Log
}
