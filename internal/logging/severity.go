package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Severity mirrors the syslog levels the spec's log-sink contract is
// defined in terms of (spec §6). slog only distinguishes four levels, so
// levels below Debug collapse to LevelDebug and levels above Error collapse
// to LevelError; the caller-visible Severity value is still recorded as a
// structured field so nothing is lost.
type Severity int

const (
	Trace Severity = iota
	Debug
	Info
	Notice
	Warning
	Error
	Critical
	Alert
	Emergency
)

func (s Severity) String() string {
	switch s {
	case Trace:
		return "trace"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Notice:
		return "notice"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	case Alert:
		return "alert"
	case Emergency:
		return "emergency"
	default:
		return "unknown"
	}
}

func (s Severity) slogLevel() slog.Level {
	switch {
	case s <= Debug:
		return slog.LevelDebug
	case s == Info || s == Notice:
		return slog.LevelInfo
	case s == Warning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// errorCount is the process-wide counter of records logged at severity >=
// Error, per spec §6.
var errorCount atomic.Uint64

// Log records text at the given severity and source location through the
// global logger. This is the log-sink indirection: swap the destination by
// calling Set with a differently configured *slog.Logger. The error counter
// is incremented by the global logger's countingHandler, not here, so it
// stays accurate whether a record reaches L() through Log or through a
// plain slog call like L().Error(...).
func Log(sev Severity, sourceLocation string, text string) {
	L().Log(context.Background(), sev.slogLevel(), text, "severity", sev.String(), "source", sourceLocation)
}

// ErrorCount returns the number of records logged at severity >= Error
// since the last Reset.
func ErrorCount() uint64 { return errorCount.Load() }

// ResetErrorCount zeroes the error counter (used by tests).
func ResetErrorCount() { errorCount.Store(0) }
