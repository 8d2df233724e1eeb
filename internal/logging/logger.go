// Package logging wraps zerolog behind a small field-helper API so the rest
// of the server never imports the backend directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"hillpursuit/server/internal/config"
)

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field.
func Error(err error) Field { return Field{Key: "error", Value: fmt.Sprint(err)} }

// Logger emits JSON-formatted structured logs.
type Logger struct {
	z      zerolog.Logger
	closer io.Closer
}

// New constructs a logger writing to stdout and, when a path is configured,
// to a size-rotated log file.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{os.Stdout}
	var closer io.Closer
	if strings.TrimSpace(cfg.Path) != "" {
		rotating, err := newRotatingWriter(cfg)
		if err != nil {
			return nil, err
		}
		writers = append(writers, rotating)
		closer = rotating
	}

	z := zerolog.New(zerolog.MultiLevelWriter(toLevelWriters(writers)...)).
		Level(level).
		With().Timestamp().Str("service", "gameserver").Logger()
	return &Logger{z: z, closer: closer}, nil
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return &Logger{z: zerolog.New(io.Discard)}
}

func toLevelWriters(writers []io.Writer) []io.Writer {
	out := make([]io.Writer, len(writers))
	copy(out, writers)
	return out
}

func parseLevel(raw string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return nil
	}
	ctx := l.z.With()
	for _, field := range fields {
		ctx = ctx.Interface(field.Key, field.Value)
	}
	return &Logger{z: ctx.Logger(), closer: l.closer}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(l.zDebug, message, fields) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(l.zInfo, message, fields) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(l.zWarn, message, fields) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(l.zError, message, fields) }

func (l *Logger) zDebug() *zerolog.Event { return l.z.Debug() }
func (l *Logger) zInfo() *zerolog.Event  { return l.z.Info() }
func (l *Logger) zWarn() *zerolog.Event  { return l.z.Warn() }
func (l *Logger) zError() *zerolog.Event { return l.z.Error() }

func (l *Logger) log(event func() *zerolog.Event, message string, fields []Field) {
	if l == nil {
		return
	}
	e := event()
	for _, field := range fields {
		e = e.Interface(field.Key, field.Value)
	}
	e.Msg(message)
}

// Close releases the rotating file writer when one was configured.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
