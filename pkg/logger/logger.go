package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
	FatalLevel = "fatal"
)

// Options controls where and how much the service logs.
type Options struct {
	Level    string
	FilePath string // empty means console output on stdout
}

var (
	mu            sync.RWMutex
	defaultLogger *zap.Logger
)

func init() {
	// console logger until main calls Init with the loaded config
	_ = Init(Options{Level: InfoLevel})
}

// ParseLevel converts a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case DebugLevel:
		return zapcore.DebugLevel, nil
	case InfoLevel, "":
		return zapcore.InfoLevel, nil
	case WarnLevel, "warning":
		return zapcore.WarnLevel, nil
	case ErrorLevel:
		return zapcore.ErrorLevel, nil
	case FatalLevel:
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Init replaces the process-wide logger.
func Init(opts Options) error {
	zapLevel, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var core zapcore.Core
	if opts.FilePath != "" {
		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		core = zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), zapLevel)
	} else {
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), zapLevel)
	}

	// AddCallerSkip so the caller points at our callers, not this package
	Replace(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// Replace swaps the process-wide logger and returns a function restoring
// the previous one.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := defaultLogger
	defaultLogger = l
	mu.Unlock()
	return func() {
		mu.Lock()
		defaultLogger = prev
		mu.Unlock()
	}
}

func sugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger.Sugar()
}

// Debug logs a debug message with fields
func Debug(msg string, fields ...interface{}) {
	sugar().Debugw(msg, fields...)
}

// Info logs an info message with fields
func Info(msg string, fields ...interface{}) {
	sugar().Infow(msg, fields...)
}

// Warn logs a warning message with fields
func Warn(msg string, fields ...interface{}) {
	sugar().Warnw(msg, fields...)
}

// Error logs an error message with fields
func Error(msg string, fields ...interface{}) {
	sugar().Errorw(msg, fields...)
}

// Fatal logs a fatal message with fields and exits
func Fatal(msg string, fields ...interface{}) {
	sugar().Fatalw(msg, fields...)
}

// With creates a child logger with fields
func With(fields ...interface{}) *zap.SugaredLogger {
	return sugar().With(fields...)
}

// Named creates a child logger scoped to a component.
func Named(name string) *zap.SugaredLogger {
	return sugar().Named(name)
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger.Sync()
}
