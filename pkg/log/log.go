// Package log provides the structured logger shared by every component of a
// resource process. It wraps zerolog rather than threading a logging
// interface through every constructor, but components still take a
// concrete zerolog.Logger at construction time instead of reaching for
// the global — the global exists only for cmd/resourced's own startup
// logging before any component is built.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithResource creates a child logger tagged with the owning resource's
// instance id.
func WithResource(instanceID string) zerolog.Logger {
	return Logger.With().Str("resource", instanceID).Logger()
}

// WithQueueName creates a child logger tagged with one of the durable
// queue names ("user", "synchronizer", "deadletter"), used when reporting
// queue depth.
func WithQueueName(queueName string) zerolog.Logger {
	return Logger.With().Str("queue", queueName).Logger()
}

// WithReplayLag creates a child logger tagged with the current replay lag
// in revisions, the gap between the store's highest committed revision and
// the one the change-replay watermark has reached.
func WithReplayLag(revisions uint64) zerolog.Logger {
	return Logger.With().Uint64("replay_lag_revisions", revisions).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
