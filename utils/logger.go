package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// NewLogger returns a colored console logger for development and a JSON
// logger otherwise.
func NewLogger(w io.Writer, environment, level string) *slog.Logger {
	lvl := ParseLevel(level)
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}

// SetupLogger installs the logger as the slog default.
func SetupLogger(environment, level string) *slog.Logger {
	logger := NewLogger(os.Stderr, environment, level)
	slog.SetDefault(logger)
	return logger
}
