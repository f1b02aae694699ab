package config

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the process logger. The returned close function releases
// a log file and is a no-op for stdout and stderr.
func NewLogger(cfg LoggingConfig) (*slog.Logger, func() error, error) {
	var (
		w       io.Writer
		closeFn = func() error { return nil }
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w, closeFn = f, f.Close
	}
	return slog.New(newHandler(w, cfg)), closeFn, nil
}

func newHandler(w io.Writer, cfg LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
