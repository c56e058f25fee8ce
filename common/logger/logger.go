package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger every service writes through. The
// service name rides on every entry so aggregated logs stay attributable.
// Level comes from LOG_LEVEL.
func NewLogger(serviceName string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

// ParseLevel accepts the usual level spellings case-insensitively. Anything
// unrecognized, including the empty string, means INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
