package logtrace

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// CorrelationIDKey is the context key carrying the request correlation id.
	CorrelationIDKey contextKey = "correlation_id"
	// OriginKey is the context key carrying the pipeline phase that emitted a log line.
	OriginKey contextKey = "origin"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// Setup initializes the process-wide logger. env "dev" selects a console
// encoder, anything else JSON.
func Setup(serviceName, env string, level slog.Level) {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	cfg.DisableStacktrace = true

	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		l = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(os.Stderr),
			toZapLevel(level),
		))
	}
	l = l.With(zap.String("service", serviceName))

	loggerMu.Lock()
	old := logger
	logger = l
	loggerMu.Unlock()
	_ = old.Sync()
}

// ParseLevel maps a config string onto a slog level; unknown values mean info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Sync flushes buffered log entries.
func Sync() {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	_ = logger.Sync()
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level <= slog.LevelInfo:
		return zapcore.InfoLevel
	case level <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// CtxWithCorrelationID stores a correlation id in the context.
func CtxWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// CtxWithOrigin stores the origin (pipeline phase) in the context.
func CtxWithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, OriginKey, origin)
}

// CorrelationIDFromContext returns the correlation id or "unknown".
func CorrelationIDFromContext(ctx context.Context) string {
	return extractCorrelationID(ctx)
}

// OriginFromContext returns the origin or "".
func OriginFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(OriginKey).(string); ok {
		return v
	}
	return ""
}

func extractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func log(ctx context.Context, level zapcore.Level, msg string, fields Fields) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()

	ce := l.Check(level, msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf, zap.String(FieldCorrelationID, extractCorrelationID(ctx)))
	if origin := OriginFromContext(ctx); origin != "" {
		zf = append(zf, zap.String(FieldOrigin, origin))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}

// Debug logs a debug message.
func Debug(ctx context.Context, msg string, fields Fields) {
	log(ctx, zapcore.DebugLevel, msg, fields)
}

// Info logs an info message.
func Info(ctx context.Context, msg string, fields Fields) {
	log(ctx, zapcore.InfoLevel, msg, fields)
}

// Warn logs a warning.
func Warn(ctx context.Context, msg string, fields Fields) {
	log(ctx, zapcore.WarnLevel, msg, fields)
}

// Error logs an error.
func Error(ctx context.Context, msg string, fields Fields) {
	log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Fatal logs and exits the process.
func Fatal(ctx context.Context, msg string, fields Fields) {
	log(ctx, zapcore.ErrorLevel, msg, fields)
	Sync()
	os.Exit(1)
}
