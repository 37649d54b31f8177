package logger

import (
	"context"
	"fmt"
	"os"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// contextFields are copied from the context onto every entry when present.
var contextFields = []contextkeys.Key{
	contextkeys.RequestIDKey,
	contextkeys.UserIDKey,
	contextkeys.SocketIDKey,
	contextkeys.EventKey,
	contextkeys.TransportKey,
}

// ZapAdapter implements the domain.Logger interface using Zap.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a JSON logger at the configured level. Error and above go to
// stderr, everything else to stdout.
func NewZapAdapter(cfgProvider config.Provider, serviceName string) (domain.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfgProvider.Get().Log.Level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	infoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapLevel && lvl < zapcore.ErrorLevel
	})
	errorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapLevel && lvl >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stdout), infoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stderr), errorLevel),
	)

	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	zapLogger = zapLogger.With(zap.String("service", serviceName))

	return &ZapAdapter{logger: zapLogger}, nil
}

// NewFromZap wraps an existing zap logger, e.g. zap.NewNop() in tests or zaptest loggers.
func NewFromZap(l *zap.Logger) domain.Logger {
	return &ZapAdapter{logger: l}
}

func (za *ZapAdapter) fields(ctx context.Context, args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+len(contextFields))

	if ctx != nil {
		for _, key := range contextFields {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				fields = append(fields, zap.String(key.String(), v))
			}
		}
	}
	return append(fields, pairs(args)...)
}

// pairs converts alternating key/value arguments into zap fields. A non-string key
// or a dangling value is kept under a positional name rather than dropped.
func pairs(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields = append(fields, zap.Any(fmt.Sprintf("orphan_field_%d", i), args[i]))
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("field_%d_%v", i, args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}

func (za *ZapAdapter) Debug(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	za.logger.Debug(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Info(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.InfoLevel) {
		return
	}
	za.logger.Info(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Warn(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.WarnLevel) {
		return
	}
	za.logger.Warn(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Error(ctx context.Context, msg string, args ...any) {
	if !za.logger.Core().Enabled(zapcore.ErrorLevel) {
		return
	}
	za.logger.Error(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) Fatal(ctx context.Context, msg string, args ...any) {
	za.logger.Fatal(msg, za.fields(ctx, args)...)
}

func (za *ZapAdapter) With(args ...any) domain.Logger {
	return &ZapAdapter{logger: za.logger.With(pairs(args)...)}
}

// Sync flushes buffered entries.
func (za *ZapAdapter) Sync() error {
	return za.logger.Sync()
}
