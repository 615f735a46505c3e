package gfx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that discards all records. Enabled returns
// false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gfx and the engines that did not get
// one through WithLogger. By default gfx produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by gfx:
//   - [slog.LevelDebug]: per-resource diagnostics (buffer sizes, pool growth)
//   - [slog.LevelInfo]: lifecycle (device selected, swapchain built, shutdown)
//   - [slog.LevelWarn]: recoverable issues (pool chained, suboptimal present)
//   - [slog.LevelError]: a fatal error about to be returned
//
// Example:
//
//	gfx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	enginesMu.Lock()
	defer enginesMu.Unlock()
	for e := range engines {
		if !e.ownLogger {
			e.setLogger(l)
		}
	}
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by driver instances that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a driver instance if it implements
// loggerSetter.
func propagateLogger(inst any, l *slog.Logger) {
	if ls, ok := inst.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// engines are the open engines, for logger propagation.
var (
	enginesMu sync.Mutex
	engines   = make(map[*Engine]struct{})
)
