// Package logging provides structured logging for bv2src using zerolog.
//
// Example usage:
//
//	log := logging.Default()
//	log.Info().Str("subject", "subject_01").Str("hemi", "lh").Msg("surface loaded")
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var defaultLogger = createDefaultLogger()

// Nop logger for discarding output.
var Nop = zerolog.Nop()

// Config holds logger configuration options
type Config struct {
	// Level is the minimum log level to output (trace, debug, info, warn, error)
	Level string `yaml:"level"`

	// Format is the output format: json, console or auto (console on a terminal)
	Format string `yaml:"format"`
}

func createDefaultLogger() zerolog.Logger {
	format := "auto"
	if os.Getenv("LOG_FORMAT") == "json" {
		format = "json"
	}
	return NewFromConfig(Config{Level: os.Getenv("LOG_LEVEL"), Format: format})
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
}

// New creates a new logger with the given writer.
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(zerolog.GlobalLevel()).
		With().
		Timestamp().
		Logger()
}

// NewConsole creates a new console logger for human-readable output.
func NewConsole() zerolog.Logger {
	return New(consoleWriter())
}

// NewFromConfig creates a logger from configuration.
func NewFromConfig(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)

	var writer io.Writer = os.Stderr
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		writer = consoleWriter()
	case "json":
	default:
		if isatty() {
			writer = consoleWriter()
		}
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

func consoleWriter() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}
}

// isatty checks if stderr is a terminal.
func isatty() bool {
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		if os.Getenv("DEBUG") != "" {
			return zerolog.DebugLevel
		}
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
