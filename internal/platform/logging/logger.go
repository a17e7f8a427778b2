// Package logging builds the application's slog logger.
package logging

import (
	"log/slog"
	"os"

	"github.com/EmmaGarrr/ai-pm/internal/platform/correlation"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

func parseLevel(level string) slog.Level {
	switch level {
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

// New builds a correlation-aware logger writing to stdout. Format is
// "json" or "text"; debug level additionally records source locations.
func New(level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(correlation.NewHandler(handler))
}

// InitLogger installs a New logger as both Logger and the slog default.
func InitLogger(level, format string) {
	Logger = New(level, format)
	slog.SetDefault(Logger)
}
