package tcpbus

import (
	"errors"

	"github.com/ihedvall/bus-message-lib/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is
// (spec §4.H ambient error handling, grounded on internal/server/errors.go).
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
)

// mapErrToMetric maps a wrapped sentinel error to its metrics label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrTCPHandshake
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPAccept
	default:
		return "other"
	}
}
