package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

func newLogger(writer io.Writer, level string, format string) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: parseLevel(level)}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(writer, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(writer, options)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (want text or json)", format)
	}
}

// parseLevel maps a level name to slog; unknown names fall back to INFO.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
