// Package logging configures the process-wide slog.Logger from the
// environment, the way the rest of the runtime expects to find it
// already set up by the time any other package calls slog.Default().
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Env names read at startup. Unset values fall back to INFO/text/stderr.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvFormat = "LOG_FORMAT"
	EnvOutput = "LOG_OUTPUT" // "stderr" (default), "stdout", or a file path
)

// Setup builds a logger from the environment, installs it as
// slog.Default(), and returns it. A stdio-transport process must log
// nowhere near stdout (the JSON-RPC channel); Setup refuses "stdout" when
// stdioSafe is true and falls back to stderr instead.
func Setup(stdioSafe bool) *slog.Logger {
	level := parseLevel(os.Getenv(EnvLevel))
	out := resolveOutput(os.Getenv(EnvOutput), stdioSafe)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(os.Getenv(EnvFormat), "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(v string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(v)) {
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

func resolveOutput(v string, stdioSafe bool) *os.File {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		if stdioSafe {
			return os.Stderr
		}
		return os.Stdout
	default:
		f, err := os.OpenFile(v, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stderr
		}
		return f
	}
}
