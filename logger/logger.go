package logger

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidLevel is returned by Initialize for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

var (
	// Logger is the global logger instance
	Logger *zap.Logger
)

// Initialize sets up the global logger. "debug" selects the development
// (console) encoder, every other level logs JSON.
func Initialize(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w %q: use debug, info, warn or error", ErrInvalidLevel, level)
	}

	config := zap.NewProductionConfig()
	if zapLevel == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := config.Build()
	if err != nil {
		return err
	}
	Logger = built
	zap.ReplaceGlobals(Logger)

	return nil
}

// UseNop installs a logger that discards everything. Tests use it to keep
// output quiet without touching the package-level helpers.
func UseNop() {
	Logger = zap.NewNop()
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// WithContext returns a logger with context fields
func WithContext(fields ...zap.Field) *zap.Logger {
	if Logger == nil {
		return zap.NewNop().With(fields...)
	}
	return Logger.With(fields...)
}

// ForUser returns a logger scoped to a single scoring run.
func ForUser(username string, fields ...zap.Field) *zap.Logger {
	return WithContext(append([]zap.Field{zap.String("username", username)}, fields...)...)
}

func Debug(msg string, fields ...zap.Field) { write(zapcore.DebugLevel, msg, fields) }
func Info(msg string, fields ...zap.Field)  { write(zapcore.InfoLevel, msg, fields) }
func Warn(msg string, fields ...zap.Field)  { write(zapcore.WarnLevel, msg, fields) }
func Error(msg string, fields ...zap.Field) { write(zapcore.ErrorLevel, msg, fields) }

// Log writes at lvl. Callers that pick the level at runtime use it
// instead of branching over the helpers.
func Log(lvl zapcore.Level, msg string, fields ...zap.Field) { write(lvl, msg, fields) }

// write skips itself and the exported helper so the reported caller is the
// code that logged.
func write(lvl zapcore.Level, msg string, fields []zap.Field) {
	if Logger == nil {
		return
	}
	if ce := Logger.WithOptions(zap.AddCallerSkip(2)).Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}
