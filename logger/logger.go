// Package logger provides a pluggable structured logging interface for
// go-astm, so that applications can route protocol events to the logging
// framework they already use.
//
// The Logger interface defines methods for logging messages at various
// severity levels (Debug, Info, Warn, Error, Fatal) with key-value pairs.
//
// Two back ends are provided:
//
//   - NewSlog / NewSlogWriter: log/slog, JSON output by default, or a colored
//     console handler (github.com/phsym/console-slog) when ENV=development.
//   - NewZap: an adapter over an existing *zap.Logger.
//
// Log Levels:
//
//   - DebugLevel: byte-level protocol traffic (ENQ/ACK/frames).
//   - InfoLevel:  exchange lifecycle (message sent/received, idle close).
//   - WarnLevel:  recoverable peer misbehaviour (NAK, checksum mismatch).
//   - ErrorLevel: failures that need attention (capture sink errors).
//   - FatalLevel: errors that terminate the program.
package logger

// LogLevel indicates the logging severity level.
type LogLevel = int8

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly,
	// it shouldn't generate any error-level logs.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// ParseLevel converts a level name ("debug", "info", "warn", "error",
// "fatal") to a LogLevel. Unknown names map to InfoLevel.
func ParseLevel(name string) LogLevel {
	switch name {
	case "debug", "DEBUG":
		return DebugLevel
	case "warn", "warning", "WARN":
		return WarnLevel
	case "error", "ERROR":
		return ErrorLevel
	case "fatal", "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// Logger defines a common interface for logging.
type Logger interface {
	// Debug logs a message at DebugLevel with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel with optional key-value pairs.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel, then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given key-value pairs.
	// Key-values added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() LogLevel
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level LogLevel)
}
