package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketlane/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// PrintfAdapter adapts zap to printf-style logging interfaces.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// Printf implements the Printf-style logging expected by middleware packages.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Warnf(format, args...)
}

// ServiceLogger returns the event logger signature accepted by the service layer. Request
// scoped loggers found on ctx win over base so that request and trace ids are attached.
// Events ending in "_failed" or "_error" are logged at error level.
func ServiceLogger(base *zap.Logger, service string) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	named := base.Named(service)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := named
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx).Named(service)
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		zapFields := make([]zap.Field, 0, len(keys)+1)
		zapFields = append(zapFields, zap.String("event", event))
		for _, key := range keys {
			value := fields[key]
			if err, ok := value.(error); ok {
				zapFields = append(zapFields, zap.NamedError(key, err))
				continue
			}
			zapFields = append(zapFields, zap.Any(key, value))
		}

		switch {
		case strings.HasSuffix(event, "_failed"), strings.HasSuffix(event, "_error"):
			logger.Error(service+" "+event, zapFields...)
		case strings.HasSuffix(event, "_rejected"), strings.HasSuffix(event, "_dropped"):
			logger.Warn(service+" "+event, zapFields...)
		default:
			logger.Info(service+" "+event, zapFields...)
		}
	}
}
