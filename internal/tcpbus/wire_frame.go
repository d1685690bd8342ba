// Package tcpbus implements the length-framed TCP transport: the TCP
// server (with its rx_queue/tx_queue fan-in/fan-out and message thread),
// the TCP broker (an accept loop mirroring peers into a host broker), and
// the TCP client (resolve/connect/read/send/retry-wait state machine).
// Every variant shares the same 4-byte little-endian length-prefixed
// framing (spec §4.H).
package tcpbus

import (
	"fmt"
	"io"

	"github.com/ihedvall/bus-message-lib/internal/wire"
)

// lengthPrefixSize is the size, in bytes, of the little-endian record
// length prefix preceding every message on the wire.
const lengthPrefixSize = 4

// maxFrameSize bounds a single record so a corrupted or hostile length
// prefix can't force an unbounded allocation.
const maxFrameSize = 1 << 20

// readFrame reads one length-prefixed record from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := wire.Uint32(lenBuf[:], 0)
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("tcpbus: implausible frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame serializes msg and writes its length prefix followed by its
// bytes to w.
func writeFrame(w io.Writer, msg wire.BusMessage) error {
	var payload []byte
	msg.ToRaw(&payload)

	var lenBuf [lengthPrefixSize]byte
	wire.PutUint32(lenBuf[:], 0, uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
