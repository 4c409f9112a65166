// Package logger configures process-wide structured JSON logging and the
// request-scoped logger used by HTTP handlers.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger
var logLevel slog.Level

func init() {
	logLevel = parseLevel(os.Getenv("LOG_LEVEL"))
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	// Code logging through slog directly gets the same JSON output.
	slog.SetDefault(log)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool {
	return logLevel == slog.LevelDebug
}

func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

// Fatal logs at error level and exits with status 1.
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
