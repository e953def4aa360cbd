// Package logging is a thin façade over log/slog that renders
// human-aligned key=value text when stdout is a terminal and switches to
// JSON when it isn't (CI, a log aggregator, a piped supervisor).
package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// New builds a *slog.Logger appropriate for w: JSON if w isn't a terminal,
// text otherwise. Pass os.Stdout for the common case.
func New(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Default builds a logger writing to os.Stdout at Info level.
func Default() *slog.Logger {
	return New(os.Stdout, slog.LevelInfo)
}

// ForMergeRequest returns a logger pre-populated with the (project_id, iid)
// fields every merge-job log line carries, so an operator can grep one MR's
// history out of a sweep's interleaved output.
func ForMergeRequest(base *slog.Logger, projectID, iid int) *slog.Logger {
	return base.With("project_id", projectID, "iid", iid)
}
