// Package logging provides the structured logger used across the connector.
// It is a thin facade over uber-go/zap so that packages depend on a small
// interface rather than on zap directly.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface accepted by every component of the
// connector. Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithFields returns a logger that attaches the given fields to every
	// entry it writes.
	WithFields(fields ...Field) Logger
}

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Field constructors for the types the connector logs.

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field      { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Time(key string, value time.Time) Field     { return Field{Key: key, Value: value} }
func Strings(key string, value []string) Field   { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

func Error(err error) Field { return Field{Key: "error", Value: err.Error()} }

type zapLogger struct {
	logger *zap.Logger
	fields []Field
}

// NewLogger creates a production zap-backed logger at the given level
// ("debug", "info", "warn", "error"). Unrecognized levels fall back to info.
func NewLogger(level string) Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stdout"}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))

	logger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap only fails on bad output paths; stdout never does, but keep
		// the nop fallback so callers are never handed a nil logger.
		return NewNop()
	}
	return &zapLogger{logger: logger}
}

// NewNop returns a logger that discards everything. Used as the default in
// tests and when callers pass no logger.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.write(zapcore.DebugLevel, msg, fields) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.write(zapcore.InfoLevel, msg, fields) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.write(zapcore.WarnLevel, msg, fields) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.write(zapcore.ErrorLevel, msg, fields) }

func (l *zapLogger) WithFields(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)
	return &zapLogger{logger: l.logger, fields: combined}
}

func (l *zapLogger) write(level zapcore.Level, msg string, fields []Field) {
	ce := l.logger.Check(level, msg)
	if ce == nil {
		return
	}

	zapFields := make([]zap.Field, 0, len(l.fields)+len(fields))
	for _, f := range l.fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	ce.Write(zapFields...)
}
