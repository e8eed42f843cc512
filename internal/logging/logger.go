// Package logging installs the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog handler on stdout as the default logger.
func Setup(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

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
