// Package logging provides leveled printf-style logging for Tubecrawl,
// backed by zerolog.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is the debug verbosity. D(l, ...) prints when l <= Level.
var Level int

var log = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.TimeOnly,
}).With().Timestamp().Logger()

// SetLevel sets the debug verbosity for D calls and lowers the zerolog
// threshold so debug lines are emitted at all.
func SetLevel(l int) {
	Level = l
	if l > 0 {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
}

// I logs an informational message.
func I(format string, args ...any) {
	log.Info().Msgf(format, args...)
}

// S logs a success message.
func S(format string, args ...any) {
	log.Info().Str("outcome", "success").Msgf(format, args...)
}

// W logs a warning.
func W(format string, args ...any) {
	log.Warn().Msgf(format, args...)
}

// E logs an error message.
func E(format string, args ...any) {
	log.Error().Msgf(format, args...)
}

// D logs a debug message at verbosity l.
func D(l int, format string, args ...any) {
	if l > Level {
		return
	}
	log.Debug().Msgf(format, args...)
}
