package pkg

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	kitlog "github.com/go-kit/log"
)

// Component identifies a subsystem for log filtering.
type Component string

const (
	ComponentHost      Component = "host"
	ComponentHAL       Component = "hal"
	ComponentTransfer  Component = "transfer"
	ComponentMSC       Component = "msc"
	ComponentDiscovery Component = "discovery"
)

var (
	logLevel = new(slog.LevelVar)
	logger   atomic.Pointer[slog.Logger]
)

// Until a binary installs its own, records go to stderr in logfmt at warn
// level and above.
func init() {
	logLevel.Set(slog.LevelWarn)
	SetLogger(NewKitLogger(kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))))
}

// SetLogLevel sets the level below which package loggers drop records.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// LogLevel returns the current level.
func LogLevel() slog.Level {
	return logLevel.Level()
}

// SetLogger replaces the logger used by LogDebug and friends.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

// Logger returns the logger used by LogDebug and friends.
func Logger() *slog.Logger {
	return logger.Load()
}

func logAt(level slog.Level, component Component, msg string, args []any) {
	l := logger.Load()
	if !l.Enabled(context.Background(), level) {
		return
	}
	l.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
