package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// New creates a JSON structured logger that writes to stdout.
func New(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

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

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}

// Secret keeps the first characters of a credential so logs can tell keys apart.
func Secret(key, value string) slog.Attr {
	masked := "***"
	switch {
	case value == "":
		masked = "?"
	case len(value) > 5:
		masked = fmt.Sprintf("%s***", value[:5])
	}
	return slog.String(key, masked)
}
