package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var base atomic.Pointer[zap.Logger]

func init() {
	base.Store(zap.NewNop())
}

// Init builds the process logger. Production gets JSON output,
// everything else the human-readable development encoder.
func Init(env string) error {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(l)
	base.Store(l)

	l.Info("logger initialized", zap.String("env", env))
	return nil
}

// Set replaces the process logger. Used by tests that want to observe output.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

func Sync() {
	_ = base.Load().Sync()
}

func Debug(msg string, fields map[string]any) {
	base.Load().Debug(msg, toZap(fields)...)
}

func Info(msg string, fields map[string]any) {
	base.Load().Info(msg, toZap(fields)...)
}

func Warn(msg string, fields map[string]any) {
	base.Load().Warn(msg, toZap(fields)...)
}

func Error(msg string, fields map[string]any) {
	base.Load().Error(msg, toZap(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	base.Load().Error(msg, toZap(fields)...)
	Sync()
	os.Exit(1)
}

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
