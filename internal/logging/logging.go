package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Global structured logger. Initialized with a reasonable text handler
// wrapped in countingHandler so every record logged through L(), including
// plain slog calls like L().Error(...) rather than the Log helper below,
// still feeds the spec §6 error counter.
var logger atomic.Pointer[slog.Logger]

func init() {
	h := &countingHandler{next: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})}
	logger.Store(slog.New(h))
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger, wrapping its handler in countingHandler
// so ErrorCount keeps tracking records regardless of which sink is active.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(slog.New(&countingHandler{next: l.Handler()}))
	}
}

// New creates a new logger with given level, format ("text" or "json"), and
// optional writer (defaults stderr). The returned logger's handler is not
// wrapped in countingHandler; wrapping happens on Set, once a caller
// installs it as the global sink.
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// countingHandler wraps a slog.Handler to feed the process-wide error
// counter (severity.go's errorCount, spec §6) from ordinary slog calls —
// L().Error(...), L().Warn(...), and so on — not just the severity-typed
// Log helper.
type countingHandler struct {
	next slog.Handler
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		errorCount.Add(1)
	}
	return h.next.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{next: h.next.WithAttrs(attrs)}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{next: h.next.WithGroup(name)}
}
