package cortex

import (
	"context"
	"log/slog"
)

// discardHandler is a slog.Handler that drops every record. Used as the
// default logger everywhere a *slog.Logger is accepted but not supplied,
// so components never need a nil check before logging.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }

// discardLogger returns a *slog.Logger that silently drops all records.
func discardLogger() *slog.Logger {
	return slog.New(discardHandler{})
}

// OrDiscard returns logger if non-nil, otherwise a discard logger. Every
// component in this repository that accepts an injectable *slog.Logger
// runs its input through this instead of leaving a raw nil check scattered
// around call sites.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return discardLogger()
	}
	return logger
}
