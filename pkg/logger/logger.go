// Package logger builds the application's root zerolog logger. Components
// derive their own child loggers from it with a "component" field.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the minimum level and output format.
type Config struct {
	Level  string // debug, info, warn, error; anything else falls back to info
	Pretty bool   // Human-readable console output for development
}

// New creates the root logger and applies the level globally.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	l := zerolog.New(os.Stdout)
	if cfg.Pretty {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	return l.With().Timestamp().Caller().Logger()
}

// SetGlobalLogger replaces the zerolog package-level logger, so code logging
// through zerolog/log shares the application's output and level.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
