// Package logging builds the process logger. Every record is written to
// stdout; ERROR and above are repeated on stderr so cron mail and the agent
// log both see failures.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// New creates a text logger tagged with the process name. The level is read
// from level on every record, so it can be changed after the config is loaded.
func New(name string, stdout, stderr io.Writer, level *slog.LevelVar) *slog.Logger {
	handler := &splitHandler{
		out: slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}),
		err: slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	return slog.New(handler).With("logger", name)
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type splitHandler struct {
	out slog.Handler
	err slog.Handler
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.out.Enabled(ctx, level) || h.err.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.out.Enabled(ctx, r.Level) {
		errs = append(errs, h.out.Handle(ctx, r.Clone()))
	}
	if h.err.Enabled(ctx, r.Level) {
		errs = append(errs, h.err.Handle(ctx, r.Clone()))
	}
	return errors.Join(errs...)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{out: h.out.WithAttrs(attrs), err: h.err.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{out: h.out.WithGroup(name), err: h.err.WithGroup(name)}
}
