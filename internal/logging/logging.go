// Package logging gives every component an explicit *Logger field
// instead of a package-level singleton. It is the one piece of
// process-wide state the design notes permit (see SPEC_FULL.md,
// Ambient Stack / Logging): even so, it is constructed once by the
// caller and threaded through, never reached for via a global.
package logging

import (
	"context"
	"io"
	"log/slog"
)

// Logger wraps *slog.Logger; With tags records with the emitting
// component's name.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing structured text to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(h)}
}

// Discard returns a Logger that drops everything, for tests and
// callers that have not wired up output yet.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a child Logger tagged with the given component name,
// matching the teacher's pattern of scoping a logger to the subsystem
// emitting through it (e.g. "cas", "sync.server", "migrate").
func (l *Logger) With(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithContext attaches no values today but exists so call sites can be
// written against a stable signature as tracing is added later.
func (l *Logger) WithContext(_ context.Context) *Logger {
	return l
}
