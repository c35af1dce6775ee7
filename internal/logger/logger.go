// Package logger holds the process-wide zap logger.
//
// Components take a *zap.SugaredLogger from Named and keep it; the package
// level helpers are for code paths that have no injected logger.
package logger

import (
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(zap.NewNop().Sugar())
}

// Initialize builds the logger. level is a zap level name; format is "json"
// or "console".
func Initialize(level, format string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	l, err := cfg.Build()
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	singleton.Store(l.Sugar())
	return nil
}

// Get returns the current logger.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// Set replaces the logger. Tests use it to capture output.
func Set(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// Named returns a child logger for a component.
func Named(name string) *zap.SugaredLogger {
	return Get().Named(name)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Get().Sync()
}

func Debugw(msg string, keysAndValues ...any) { Get().Debugw(msg, keysAndValues...) }
func Infow(msg string, keysAndValues ...any)  { Get().Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { Get().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { Get().Errorw(msg, keysAndValues...) }

// Fatalw logs and exits the process.
func Fatalw(msg string, keysAndValues ...any) { Get().Fatalw(msg, keysAndValues...) }
