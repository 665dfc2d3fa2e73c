// Package logger provides a process-wide structured logger for the auth
// broker. It wraps log/slog behind a small, swappable singleton so call
// sites never need to thread a logger through every function signature.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newLogger(os.Stdout, unstructuredLogs()))
}

// envReader abstracts os.Getenv so tests can supply a fake environment
// without mutating process-global state.
type envReader interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// Initialize (re)configures the singleton logger from the process
// environment. It is intended to run once, from a command's
// PersistentPreRun, before any other package logs.
func Initialize() {
	InitializeWithEnv(osEnv{})
}

// InitializeWithEnv is Initialize with an injectable environment reader,
// exported for tests that need deterministic UNSTRUCTURED_LOGS behavior.
func InitializeWithEnv(env envReader) {
	singleton.Store(newLogger(os.Stdout, unstructuredLogsWithEnv(env)))
}

// Get returns the current singleton logger.
func Get() *slog.Logger {
	return singleton.Load()
}

func newLogger(w *os.File, unstructured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if unstructured {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// unstructuredLogs reports whether human-readable text logging is enabled.
// Defaults to true (unstructured); only an explicit "false" switches to
// JSON. Any other value, including garbage, is treated as "unset".
func unstructuredLogs() bool {
	return unstructuredLogsWithEnv(osEnv{})
}

func unstructuredLogsWithEnv(env envReader) bool {
	switch env.Getenv("UNSTRUCTURED_LOGS") {
	case "false":
		return false
	default:
		return true
	}
}

func Debug(msg string) { Get().Debug(msg) }

func Debugf(format string, args ...any) { Get().Debug(fmt.Sprintf(format, args...)) }

func Debugw(msg string, kv ...any) { Get().Debug(msg, kv...) }

func Info(msg string) { Get().Info(msg) }

func Infof(format string, args ...any) { Get().Info(fmt.Sprintf(format, args...)) }

func Infow(msg string, kv ...any) { Get().Info(msg, kv...) }

func Warn(msg string) { Get().Warn(msg) }

func Warnf(format string, args ...any) { Get().Warn(fmt.Sprintf(format, args...)) }

func Warnw(msg string, kv ...any) { Get().Warn(msg, kv...) }

func Error(msg string) { Get().Error(msg) }

func Errorf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }

func Errorw(msg string, kv ...any) { Get().Error(msg, kv...) }

// Panic logs at error level then panics with msg.
func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

// Panicf formats, logs at error level, then panics.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

// Panicw logs structured key-values at error level then panics with msg.
func Panicw(msg string, kv ...any) {
	Get().Error(msg, kv...)
	panic(msg)
}

// Fatal logs at error level then exits the process. Reserved for startup
// failures in cmd/authbroker where a panic would be the wrong signal.
func Fatal(msg string) {
	Get().Error(msg)
	os.Exit(1)
}

// Fatalf formats, logs at error level, then exits the process.
func Fatalf(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// WithContext returns the singleton logger; kept for call sites that
// thread a context.Context and may later want request-scoped fields.
func WithContext(_ context.Context) *slog.Logger {
	return Get()
}
