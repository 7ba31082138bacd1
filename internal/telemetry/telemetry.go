// Package telemetry constructs the process-wide structured logger. Tracing
// and metric export over a network endpoint are part of the HTTP admin
// surface (spec.md §1, deliberately out of scope); this package only
// builds the *slog.Logger every component takes as a constructor argument.
package telemetry

import (
	"log/slog"
	"os"
)

// NewLogger builds a JSON slog.Logger at the given level and installs it
// as the process default.
func NewLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config log-level string to a slog.Level, defaulting to
// Info for unrecognized values.
func ParseLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
