package wire

import "fmt"

// CANEFFFlag marks message_id bit 31, the extended-id indicator.
const CANEFFFlag uint32 = 0x80000000

// CANSFFMask is the low 11 bits of a standard (non-extended) CAN id.
const CANSFFMask uint32 = 0x7FF

// CANEFFMask is the low 29 bits of an extended CAN id.
const CANEFFMask uint32 = 0x1FFFFFFF

// dlcLengthTable maps a CAN-FD DLC (0..15) to its payload length in bytes.
var dlcLengthTable = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// canDataFramePayloadOffset is where the CAN-specific fields begin, right
// after the 18-byte common header.
const canDataFramePayloadOffset = HeaderSize

// canDataFrameFixedSize is the serialized size of a CAN data frame with zero
// payload bytes: 18-byte header + 16 bytes of CAN-specific fixed fields.
const canDataFrameFixedSize = HeaderSize + 16

// CANDataFrame is the primary bus message variant: a CAN / CAN-FD data
// frame carrying an id, flags, timing, and up to 64 bytes of payload.
type CANDataFrame struct {
	header

	messageID      uint32
	dlc            uint8
	crc            uint32
	frameDuration  uint32
	data           []byte

	dir        bool
	srr        bool
	edl        bool
	brs        bool
	esi        bool
	rtr        bool
	r0         bool
	r1         bool
	wakeUp     bool
	singleWire bool
}

// NewCANDataFrame returns a new, empty CAN data frame with default fields.
func NewCANDataFrame() *CANDataFrame {
	f := &CANDataFrame{header: newHeader(CANDataFrameType)}
	f.size = canDataFrameFixedSize
	return f
}

// MessageID returns the raw 32-bit id field (bit 31 = extended flag).
func (f *CANDataFrame) MessageID() uint32 { return f.messageID }

// SetMessageID sets the CAN id. The extended-id flag (bit 31) is whatever
// the caller passed in, OR'd with an automatic override: if the low 29 bits
// exceed the 11-bit standard range, bit 31 is forced set regardless of the
// caller's value (invariant: extended ids always carry the flag).
func (f *CANDataFrame) SetMessageID(id uint32) {
	canID := id & CANEFFMask
	extended := id&CANEFFFlag != 0 || canID > CANSFFMask
	f.messageID = canID
	if extended {
		f.messageID |= CANEFFFlag
	}
}

// IsExtended reports whether the extended-id flag (bit 31) is set.
func (f *CANDataFrame) IsExtended() bool { return f.messageID&CANEFFFlag != 0 }

// CANID returns the id without the extended flag bit.
func (f *CANDataFrame) CANID() uint32 { return f.messageID &^ CANEFFFlag }

// DLC returns the data length code.
func (f *CANDataFrame) DLC() uint8 { return f.dlc }

// DataLength returns the payload length in bytes.
func (f *CANDataFrame) DataLength() int { return len(f.data) }

// Data returns the payload bytes.
func (f *CANDataFrame) Data() []byte { return f.data }

// SetData sets the payload and derives DLC as the smallest table index
// whose length is >= len(data); data longer than 64 bytes is truncated to
// 64 (data_length invariant, spec §3).
func (f *CANDataFrame) SetData(data []byte) {
	if len(data) > 64 {
		data = data[:64]
	}
	f.data = append([]byte(nil), data...)
	f.dlc = dlcFor(len(f.data))
	f.size = uint32(canDataFrameFixedSize + len(f.data))
}

func dlcFor(length int) uint8 {
	for i, l := range dlcLengthTable {
		if l >= length {
			return uint8(i)
		}
	}
	return uint8(len(dlcLengthTable) - 1)
}

// CRC returns the carried CRC value. It is round-tripped only: this module
// never computes or verifies it (see SPEC_FULL.md §11.6).
func (f *CANDataFrame) CRC() uint32     { return f.crc }
func (f *CANDataFrame) SetCRC(v uint32) { f.crc = v }

// FrameDuration returns the frame duration in nanoseconds.
func (f *CANDataFrame) FrameDuration() uint32     { return f.frameDuration }
func (f *CANDataFrame) SetFrameDuration(v uint32) { f.frameDuration = v }

// Flag accessors (10 boolean bits, spec §3/§4.B).
func (f *CANDataFrame) Dir() bool            { return f.dir }
func (f *CANDataFrame) SetDir(v bool)        { f.dir = v }
func (f *CANDataFrame) SRR() bool            { return f.srr }
func (f *CANDataFrame) SetSRR(v bool)        { f.srr = v }
func (f *CANDataFrame) EDL() bool            { return f.edl }
func (f *CANDataFrame) SetEDL(v bool)        { f.edl = v }
func (f *CANDataFrame) BRS() bool            { return f.brs }
func (f *CANDataFrame) SetBRS(v bool)        { f.brs = v }
func (f *CANDataFrame) ESI() bool            { return f.esi }
func (f *CANDataFrame) SetESI(v bool)        { f.esi = v }
func (f *CANDataFrame) RTR() bool            { return f.rtr }
func (f *CANDataFrame) SetRTR(v bool)        { f.rtr = v }
func (f *CANDataFrame) R0() bool             { return f.r0 }
func (f *CANDataFrame) SetR0(v bool)         { f.r0 = v }
func (f *CANDataFrame) R1() bool             { return f.r1 }
func (f *CANDataFrame) SetR1(v bool)         { f.r1 = v }
func (f *CANDataFrame) WakeUp() bool         { return f.wakeUp }
func (f *CANDataFrame) SetWakeUp(v bool)     { f.wakeUp = v }
func (f *CANDataFrame) SingleWire() bool     { return f.singleWire }
func (f *CANDataFrame) SetSingleWire(v bool) { f.singleWire = v }

func (f *CANDataFrame) flagByte0() byte {
	var b byte
	if f.dir {
		b |= 1 << 0
	}
	if f.srr {
		b |= 1 << 1
	}
	if f.edl {
		b |= 1 << 2
	}
	if f.brs {
		b |= 1 << 3
	}
	if f.esi {
		b |= 1 << 4
	}
	if f.rtr {
		b |= 1 << 5
	}
	if f.r0 {
		b |= 1 << 6
	}
	if f.r1 {
		b |= 1 << 7
	}
	return b
}

func (f *CANDataFrame) setFlagByte0(b byte) {
	f.dir = b&(1<<0) != 0
	f.srr = b&(1<<1) != 0
	f.edl = b&(1<<2) != 0
	f.brs = b&(1<<3) != 0
	f.esi = b&(1<<4) != 0
	f.rtr = b&(1<<5) != 0
	f.r0 = b&(1<<6) != 0
	f.r1 = b&(1<<7) != 0
}

func (f *CANDataFrame) flagByte1() byte {
	var b byte
	if f.wakeUp {
		b |= 1 << 0
	}
	if f.singleWire {
		b |= 1 << 1
	}
	return b
}

func (f *CANDataFrame) setFlagByte1(b byte) {
	f.wakeUp = b&(1<<0) != 0
	f.singleWire = b&(1<<1) != 0
}

// ToRaw serializes the frame per spec §4.B. It marks the message invalid
// and leaves dest untouched if the size cannot be satisfied.
func (f *CANDataFrame) ToRaw(dest *[]byte) {
	total := int(canDataFrameFixedSize) + len(f.data)
	buf := make([]byte, total)
	f.size = uint32(total)
	f.toRawHeader(buf)

	off := canDataFramePayloadOffset
	PutUint32(buf, off, f.messageID)
	buf[off+4] = f.dlc
	buf[off+5] = byte(len(f.data))
	PutUint32(buf, off+6, f.crc)
	buf[off+10] = f.flagByte0()
	buf[off+11] = f.flagByte1()
	PutUint32(buf, off+12, f.frameDuration)
	copy(buf[off+16:], f.data)

	*dest = buf
	f.valid = true
}

// FromRaw parses a CAN data frame per spec §4.B, marking the message
// invalid on any bound violation.
func (f *CANDataFrame) FromRaw(src []byte) {
	if !f.fromRawHeader(src) {
		return
	}
	off := canDataFramePayloadOffset
	if len(src) < off+16 {
		f.valid = false
		return
	}
	f.messageID = Uint32(src, off)
	f.dlc = src[off+4]
	dataLen := int(src[off+5])
	f.crc = Uint32(src, off+6)
	f.setFlagByte0(src[off+10])
	f.setFlagByte1(src[off+11])
	f.frameDuration = Uint32(src, off+12)

	if dataLen > 64 || len(src) < off+16+dataLen {
		f.valid = false
		return
	}
	f.data = append([]byte(nil), src[off+16:off+16+dataLen]...)
	f.valid = true
}

// Clone returns an independent copy, deep-copying the payload slice so the
// original and the clone can be mutated (via ToRaw/FromRaw) concurrently.
func (f *CANDataFrame) Clone() BusMessage {
	clone := *f
	clone.data = append([]byte(nil), f.data...)
	return &clone
}

// ToString renders a short human-readable line, or "" if logLevel > 1.
func (f *CANDataFrame) ToString(logLevel int) string {
	if logLevel > 1 {
		return ""
	}
	return fmt.Sprintf("%d ch=%d id=0x%X dlc=%d %X", f.timestamp, f.busChannel, f.CANID(), f.dlc, f.data)
}
