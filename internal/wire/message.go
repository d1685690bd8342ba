package wire

import "fmt"

// MessageType tags the concrete kind of a BusMessage. Values follow
// original_source/include/bus/ibusmessage.h, which is the definition the
// distributed implementation code actually uses; a duplicate header in the
// same tree disagrees (see DESIGN.md, Open Question 2).
type MessageType uint16

const (
	Unknown MessageType = iota
	CANDataFrameType
	CANRemoteFrameType
	CANErrorFrameType
	CANOverloadFrameType
	CANBusWakeUpType
	CANSingleWireType
)

func (t MessageType) String() string {
	switch t {
	case Unknown:
		return "Unknown"
	case CANDataFrameType:
		return "CAN_DataFrame"
	case CANRemoteFrameType:
		return "CAN_RemoteFrame"
	case CANErrorFrameType:
		return "CAN_ErrorFrame"
	case CANOverloadFrameType:
		return "CAN_OverloadFrame"
	case CANBusWakeUpType:
		return "CAN_BusWakeUp"
	case CANSingleWireType:
		return "CAN_SingleWire"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

// HeaderSize is the fixed size, in bytes, of every bus message's header.
const HeaderSize = 18

// BusMessage is the common contract every message variant implements. The
// size and valid fields are held in the embedded header so ToRaw/FromRaw can
// update them on an otherwise logically-const receiver.
type BusMessage interface {
	Type() MessageType
	Version() uint16
	SetVersion(uint16)
	Size() uint32
	Timestamp() uint64
	SetTimestamp(uint64)
	BusChannel() uint16
	SetBusChannel(uint16)
	Valid() bool

	// ToRaw serializes the message into dest, which is resized as needed.
	// On failure the message is marked invalid and dest is left untouched.
	ToRaw(dest *[]byte)
	// FromRaw parses src into the message. On failure the message is
	// marked invalid.
	FromRaw(src []byte)

	// ToString renders a short human-readable line, or "" if logLevel > 1
	// (used by the external text-listener bridge to skip formatting cost
	// at low verbosity).
	ToString(logLevel int) string

	// Clone returns an independent copy. Broadcast fan-out clones once per
	// subscriber so concurrent consumers never share the same mutable
	// message value (ToRaw/FromRaw mutate size/valid on their receiver).
	Clone() BusMessage
}

// header is embedded by every concrete message type.
type header struct {
	msgType    MessageType
	version    uint16
	size       uint32
	timestamp  uint64
	busChannel uint16
	valid      bool
}

func newHeader(t MessageType) header {
	return header{msgType: t, size: HeaderSize, valid: true}
}

func (h *header) Type() MessageType        { return h.msgType }
func (h *header) Version() uint16          { return h.version }
func (h *header) SetVersion(v uint16)      { h.version = v }
func (h *header) Size() uint32             { return h.size }
func (h *header) Timestamp() uint64        { return h.timestamp }
func (h *header) SetTimestamp(v uint64)    { h.timestamp = v }
func (h *header) BusChannel() uint16       { return h.busChannel }
func (h *header) SetBusChannel(v uint16)   { h.busChannel = v }
func (h *header) Valid() bool              { return h.valid }

func (h *header) toRawHeader(dest []byte) {
	PutUint16(dest, 0, uint16(h.msgType))
	PutUint16(dest, 2, h.version)
	PutUint32(dest, 4, h.size)
	PutUint64(dest, 8, h.timestamp)
	PutUint16(dest, 16, h.busChannel)
}

// fromRawHeader parses the 18-byte header. It returns false (and marks the
// message invalid) if src is too short to contain a header.
func (h *header) fromRawHeader(src []byte) bool {
	if len(src) < HeaderSize {
		h.valid = false
		return false
	}
	h.msgType = MessageType(Uint16(src, 0))
	h.version = Uint16(src, 2)
	h.size = Uint32(src, 4)
	h.timestamp = Uint64(src, 8)
	h.busChannel = Uint16(src, 16)
	if uint64(h.size) > uint64(len(src)) {
		h.valid = false
		return false
	}
	h.valid = true
	return true
}

// unknownMessage is the message created for MessageType Unknown, or any
// header-only message with no payload. It is also what Create() returns for
// a type this module does not fully implement (only the header round-trips).
type unknownMessage struct {
	header
}

// Create constructs a new message of the given type with default field
// values. Unimplemented variants still round-trip their header.
func Create(t MessageType) BusMessage {
	switch t {
	case CANDataFrameType:
		return NewCANDataFrame()
	default:
		return &unknownMessage{header: newHeader(t)}
	}
}

func (m *unknownMessage) ToRaw(dest *[]byte) {
	if cap(*dest) < HeaderSize {
		*dest = make([]byte, HeaderSize)
	} else {
		*dest = (*dest)[:HeaderSize]
	}
	m.size = HeaderSize
	m.toRawHeader(*dest)
	m.valid = true
}

func (m *unknownMessage) FromRaw(src []byte) {
	m.fromRawHeader(src)
}

func (m *unknownMessage) Clone() BusMessage {
	clone := *m
	return &clone
}

func (m *unknownMessage) ToString(logLevel int) string {
	if logLevel > 1 {
		return ""
	}
	return fmt.Sprintf("%d %s ch=%d", m.timestamp, m.msgType, m.busChannel)
}
