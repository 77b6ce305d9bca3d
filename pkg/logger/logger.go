package logger

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger atomic.Pointer[Logger]

	fallbackOnce sync.Once
	fallback     *Logger
)

// Logger wraps zap.SugaredLogger so callers can attach component fields.
type Logger struct {
	*zap.SugaredLogger
}

// Init builds the global logger. Production uses the JSON encoder.
func Init(level string, env string) error {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	globalLogger.Store(&Logger{SugaredLogger: logger.Sugar()})
	return nil
}

// Get returns the global logger, falling back to a development logger.
// Safe for concurrent use before Init.
func Get() *Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	fallbackOnce.Do(func() {
		logger, _ := zap.NewDevelopment()
		fallback = &Logger{SugaredLogger: logger.Sugar()}
	})
	globalLogger.CompareAndSwap(nil, fallback)
	return globalLogger.Load()
}

// Set replaces the global logger. Tests use it with zaptest/observer cores.
func Set(l *zap.Logger) {
	globalLogger.Store(&Logger{SugaredLogger: l.Sugar()})
}

// With creates a child logger with additional fields.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// Sync flushes buffered entries.
func Sync() {
	if l := globalLogger.Load(); l != nil {
		_ = l.SugaredLogger.Sync()
	}
}

func Infof(template string, args ...interface{})  { Get().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Get().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Get().Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { Get().Fatalf(template, args...) }
