package log

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// mirrorErrors gates whether error records reach the secondary handler. It
// starts enabled so errors hit stderr by default; the chat TUI disables it
// while it owns the terminal.
var mirrorErrors atomic.Bool

func init() {
	mirrorErrors.Store(true)
}

// EnableErrorMirroring resumes mirroring error records to the secondary
// handler.
func EnableErrorMirroring() {
	mirrorErrors.Store(true)
}

// DisableErrorMirroring stops the secondary handler from receiving error
// records. Interactive commands call this so stderr writes do not tear the
// rendered UI.
func DisableErrorMirroring() {
	mirrorErrors.Store(false)
}

// NewDualHandler fans records out to a primary handler and mirrors error
// records to a secondary one while mirroring is enabled. Either handler may be
// nil.
func NewDualHandler(primary, secondary slog.Handler) slog.Handler {
	return &dualHandler{primary: primary, secondary: secondary}
}

type dualHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *dualHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.primary != nil && h.primary.Enabled(ctx, level) {
		return true
	}
	return h.shouldMirror(level) && h.secondary.Enabled(ctx, level)
}

func (h *dualHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.primary != nil && h.primary.Enabled(ctx, record.Level) {
		if err := h.primary.Handle(ctx, record); err != nil {
			return err
		}
	}
	if h.shouldMirror(record.Level) && h.secondary.Enabled(ctx, record.Level) {
		return h.secondary.Handle(ctx, record.Clone())
	}
	return nil
}

func (h *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{
		primary:   applyAttrs(h.primary, attrs),
		secondary: applyAttrs(h.secondary, attrs),
	}
}

func (h *dualHandler) WithGroup(name string) slog.Handler {
	next := &dualHandler{}
	if h.primary != nil {
		next.primary = h.primary.WithGroup(name)
	}
	if h.secondary != nil {
		next.secondary = h.secondary.WithGroup(name)
	}
	return next
}

func (h *dualHandler) shouldMirror(level slog.Level) bool {
	return h.secondary != nil && level >= slog.LevelError && mirrorErrors.Load()
}

func applyAttrs(h slog.Handler, attrs []slog.Attr) slog.Handler {
	if h == nil {
		return nil
	}
	return h.WithAttrs(attrs)
}
