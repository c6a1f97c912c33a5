package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger shared by services and installs it as
// the slog default.
func NewLogger(level, service string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, service)
}

// NewLoggerTo is NewLogger writing to w. The CLI logs to stderr with it.
func NewLoggerTo(w io.Writer, level, service string) *slog.Logger {
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
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).With("service", service)
	slog.SetDefault(logger)
	return logger
}
