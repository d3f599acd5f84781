package logging

import (
	"context"
	"log/slog"
	"time"
)

// FieldComponent tags log lines with the subsystem that emitted them. The
// console handler lifts this attribute into the line prefix.
const FieldComponent = "component"

// Common attribute keys shared across subsystems.
const (
	FieldCID    = "cid"
	FieldStatus = "status"
	FieldBlock  = "block"
	FieldCount  = "count"
)

// Attr aliases slog.Attr so call sites avoid importing log/slog directly.
type Attr = slog.Attr

func String(key, value string) Attr          { return slog.String(key, value) }
func Int(key string, value int) Attr         { return slog.Int(key, value) }
func Int64(key string, value int64) Attr     { return slog.Int64(key, value) }
func Bool(key string, value bool) Attr       { return slog.Bool(key, value) }
func Duration(key string, d time.Duration) Attr { return slog.Duration(key, d) }
func Any(key string, value any) Attr         { return slog.Any(key, value) }

// Error returns a standard "error" attribute, tolerating nil errors.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// NewComponentLogger returns a child logger tagged with a component name.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NoopHandler drops all records.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }
func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler        { return NoopHandler{} }
func (NoopHandler) WithGroup(string) slog.Handler             { return NoopHandler{} }
