package logging

import (
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

// Init initializes the global structured logger. Format is "text" or "json";
// unset falls back to the STACKFORM_LOG_FORMAT environment variable.
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if format == "" {
		format = os.Getenv("STACKFORM_LOG_FORMAT")
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// Logger returns the global logger instance.
func Logger() *slog.Logger {
	if logger == nil {
		Init("info", "")
	}
	return logger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}
