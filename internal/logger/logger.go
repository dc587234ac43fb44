// Package logger wraps zap with the field/context conventions the rest of
// the bridge relies on: per-session and per-correlation enrichment, and a
// format that adapts to whether output looks like a terminal.
package logger

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger with a few bridge-specific conveniences.
type Logger struct {
	z *zap.Logger
}

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	sessionIDKey     contextKey = "session_id"
)

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Config controls level and output format.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json", "console", or "" (auto)
	OutputPath string `mapstructure:"output_path"`
}

// Default returns the process-wide logger, built once from the environment.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{Level: envOr("ACP_LOG_LEVEL", "info"), Format: envOr("ACP_LOG_FORMAT", "")})
		if err != nil {
			l = &Logger{z: zap.NewNop()}
		}
		defaultLog = l
	})
	return defaultLog
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New builds a Logger from the supplied configuration.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.LevelKey = "level"
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch detectFormat(cfg.Format) {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	out := zapcore.AddSync(os.Stderr)
	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, out, level)
	z := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{z: z}, nil
}

// detectFormat returns "console" when stderr is a TTY and no explicit
// format was requested, "json" otherwise. Mirrors the teacher's
// production-vs-dev heuristic without depending on a container runtime
// check (out of scope here).
func detectFormat(requested string) string {
	if requested != "" {
		return requested
	}
	if fi, err := os.Stderr.Stat(); err == nil {
		if (fi.Mode() & os.ModeCharDevice) != 0 {
			return "console"
		}
	}
	return "json"
}

// WithFields returns a derived logger with the given structured fields attached.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// WithContext enriches the logger with correlation/session IDs carried on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := make([]zap.Field, 0, 2)
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlation_id", v))
	}
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithSession attaches a session ID field.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.WithFields(zap.String("session_id", sessionID))
}

// ContextWithCorrelationID returns a context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextWithSessionID returns a context carrying the given session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// CorrelationIDFromContext extracts a correlation ID previously attached, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// Zap returns the underlying *zap.Logger for callers that need it directly.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
