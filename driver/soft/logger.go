package soft

import (
	"context"
	"log/slog"
)

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// SetLogger sets the logger for the instance and the devices created from
// it afterwards. Nil restores silence.
func (i *Instance) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	i.mu.Lock()
	i.logger = l
	i.mu.Unlock()
}

func (i *Instance) log() *slog.Logger {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logger
}
