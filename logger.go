package transport

import (
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation, pass an hclog.Logger as is,
// or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// zerologLogger adapts a zerolog.Logger to Logger.
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger returns a Logger that writes through the given zerolog logger.
// Key-value pairs are attached as event fields.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

func (z *zerologLogger) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(args).Msg(msg)
}

func (z *zerologLogger) Info(msg string, args ...any) {
	z.logger.Info().Fields(args).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(args).Msg(msg)
}

func (z *zerologLogger) Error(msg string, args ...any) {
	z.logger.Error().Fields(args).Msg(msg)
}
