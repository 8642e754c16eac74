package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger picks the output format by terminal: human key=value text when
// stderr is a TTY, JSON otherwise (pipes, service managers, log shippers).
func newLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
