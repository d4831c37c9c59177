package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LoggerConfig holds configuration for the process logger.
type LoggerConfig struct {
	ServiceName    string
	ServiceVersion string
	Level          string

	// Console writes human-readable output instead of JSON.
	Console bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// NewLogger returns the structured logger every component receives. An
// unknown level falls back to info.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()
}
