// Package logger configures the process-wide structured logger used by
// every other package in the broker.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Initialize must be called once at
// startup before any component logs.
var Log zerolog.Logger

// Initialize configures the global logger's level and output format.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "pulsewire-broker").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Component returns a sub-logger tagged with the given component name.
// Used instead of one logger per concern so fields stay consistent.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// Connection returns a sub-logger for a specific connection, carrying its
// socket ID and app ID on every entry.
func Connection(socketID, appID string) zerolog.Logger {
	return Log.With().
		Str("component", "connection").
		Str("socket_id", socketID).
		Str("app_id", appID).
		Logger()
}
