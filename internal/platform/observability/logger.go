package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cleanline/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// EventLogger is the func-typed logger the services accept.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewLogger constructs a production zap logger emitting Cloud Logging friendly JSON. LOG_LEVEL picks the level.
func NewLogger() (*zap.Logger, error) {
	return NewLoggerWithLevel(os.Getenv("LOG_LEVEL"))
}

// NewLoggerWithLevel is NewLogger with an explicit level; unknown levels fall back to info.
func NewLoggerWithLevel(raw string) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil || strings.TrimSpace(raw) == "" {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderConfig(),
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		NameKey:    "logger",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// WithRequestFields augments the logger with standard request-scoped fields.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}

// NewEventLogger adapts zap to EventLogger. The request logger on ctx wins over fallback so service events
// carry the request id and trace. Events ending in "failed", "invalid" or "rejected" log at warn.
func NewEventLogger(fallback *zap.Logger, name string) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		if name != "" {
			logger = logger.Named(name)
		}

		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		zFields := make([]zap.Field, 0, len(fields)+2)
		zFields = append(zFields, zap.String("event", event))
		if id := requestctx.SessionID(ctx); id != "" {
			if _, ok := fields["sessionId"]; !ok {
				zFields = append(zFields, zap.String("sessionId", id))
			}
		}
		for _, k := range keys {
			zFields = append(zFields, zap.Any(k, fields[k]))
		}

		if warnEvent(event) {
			logger.Warn(event, zFields...)
			return
		}
		logger.Info(event, zFields...)
	}
}

func warnEvent(event string) bool {
	for _, suffix := range []string{"failed", "invalid", "rejected", "stale_served", "skipped"} {
		if strings.HasSuffix(event, suffix) {
			return true
		}
	}
	return false
}
