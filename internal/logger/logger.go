// Package logger provides structured, level-gated logging for the
// pseudonymization subsystem.
//
// Each entry is a single JSON line carrying the module, an action tag and
// the message:
//
//	{"level":"info","module":"MAPPING","action":"mapping_create","message":"ELEVE_001 registered for class 5A"}
//
// Levels (lowest to highest): debug, info, warn, error.
// Entries below the configured minimum level are silently dropped.
//
// Usage:
//
//	log := logger.New("pipeline", cfg.LogLevel)
//	log.Info("pass_complete", "regex pass replaced 3 occurrences")
//	log.Errorf("ner_load", "initializing tagger: %v", err)
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger writes structured log lines for a single module.
type Logger struct {
	module string
	zl     zerolog.Logger
}

// New creates a Logger for the given module, gated at the given level string,
// writing to stderr. Unrecognized level strings default to "info".
func New(module, levelStr string) *Logger {
	return NewWithWriter(module, levelStr, os.Stderr)
}

// NewWithWriter creates a Logger writing to w instead of stderr.
func NewWithWriter(module, levelStr string, w io.Writer) *Logger {
	module = strings.ToUpper(module)
	zl := zerolog.New(w).
		Level(parseLevel(levelStr)).
		With().
		Timestamp().
		Str("module", module).
		Logger()
	return &Logger{module: module, zl: zl}
}

// SetLevel changes the minimum log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.zl = l.zl.Level(parseLevel(levelStr))
}

// Debug logs at debug level.
func (l *Logger) Debug(action, msg string) { l.zl.Debug().Str("action", action).Msg(msg) }

// Info logs at info level.
func (l *Logger) Info(action, msg string) { l.zl.Info().Str("action", action).Msg(msg) }

// Warn logs at warn level.
func (l *Logger) Warn(action, msg string) { l.zl.Warn().Str("action", action).Msg(msg) }

// Error logs at error level.
func (l *Logger) Error(action, msg string) { l.zl.Error().Str("action", action).Msg(msg) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(action, format string, args ...any) {
	l.Debug(action, fmt.Sprintf(format, args...))
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(action, format string, args ...any) {
	l.Info(action, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(action, format string, args ...any) {
	l.Warn(action, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(action, format string, args ...any) {
	l.Error(action, fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and then exits the process.
func (l *Logger) Fatal(action, msg string) {
	l.zl.Fatal().Str("action", action).Msg(msg)
}

// Fatalf logs a formatted message at fatal level and then exits the process.
func (l *Logger) Fatalf(action, format string, args ...any) {
	l.Fatal(action, fmt.Sprintf(format, args...))
}

// parseLevel converts a string to a zerolog level, defaulting to info.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
