// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339, Unix, etc.
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	Setup(cfg, os.Stdout)
}

// Setup initializes the global logger writing to w.
func Setup(cfg Config, w io.Writer) {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := w
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithSession returns a logger with conversation session context.
func WithSession(component, sessionId string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("sessionId", sessionId).
		Logger()
}

// WithStream returns a logger with audio ingest stream context.
func WithStream(streamId, peer string) zerolog.Logger {
	return log.With().
		Str("component", "ingest").
		Str("streamId", streamId).
		Str("peer", peer).
		Logger()
}
