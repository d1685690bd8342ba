package wire

import (
	"bytes"
	"testing"
)

func TestCANDataFrameRoundTrip(t *testing.T) {
	f := NewCANDataFrame()
	f.SetMessageID(1234 | CANEFFFlag)
	f.SetCRC(0x12345)
	f.SetDir(true)
	f.SetSRR(true)
	f.SetEDL(true)
	f.SetBRS(true)
	f.SetESI(true)
	f.SetRTR(true)
	f.SetR0(true)
	f.SetR1(true)
	f.SetWakeUp(true)
	f.SetSingleWire(true)
	f.SetFrameDuration(123)
	f.SetData([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	f.SetTimestamp(1700000000000000000)
	f.SetBusChannel(3)

	var raw []byte
	f.ToRaw(&raw)
	if !f.Valid() {
		t.Fatal("expected valid after ToRaw")
	}
	if len(raw) != 42 {
		t.Fatalf("expected 42 bytes (34+8), got %d", len(raw))
	}
	if f.Size() != 42 {
		t.Fatalf("expected Size()==42, got %d", f.Size())
	}

	got := NewCANDataFrame()
	got.FromRaw(raw)
	if !got.Valid() {
		t.Fatal("expected valid after FromRaw")
	}
	if got.MessageID() != f.MessageID() {
		t.Fatalf("message id mismatch: got %#x want %#x", got.MessageID(), f.MessageID())
	}
	if !got.IsExtended() {
		t.Fatal("expected extended flag set")
	}
	if got.CRC() != 0x12345 {
		t.Fatalf("crc mismatch: %#x", got.CRC())
	}
	if got.FrameDuration() != 123 {
		t.Fatalf("frame duration mismatch: %d", got.FrameDuration())
	}
	if !bytes.Equal(got.Data(), f.Data()) {
		t.Fatalf("data mismatch: got %v want %v", got.Data(), f.Data())
	}
	for name, pair := range map[string][2]bool{
		"dir": {got.Dir(), true}, "srr": {got.SRR(), true}, "edl": {got.EDL(), true},
		"brs": {got.BRS(), true}, "esi": {got.ESI(), true}, "rtr": {got.RTR(), true},
		"r0": {got.R0(), true}, "r1": {got.R1(), true},
		"wake_up": {got.WakeUp(), true}, "single_wire": {got.SingleWire(), true},
	} {
		if pair[0] != pair[1] {
			t.Fatalf("flag %s mismatch: got %v want %v", name, pair[0], pair[1])
		}
	}
	if got.Timestamp() != f.Timestamp() || got.BusChannel() != f.BusChannel() {
		t.Fatal("header field mismatch")
	}
}

func TestCANDataFrameDLCDerivation(t *testing.T) {
	cases := []struct {
		length  int
		wantDLC uint8
	}{
		{0, 0}, {1, 1}, {8, 8}, {9, 9}, {12, 9}, {13, 10}, {20, 11}, {64, 15}, {50, 15},
	}
	for _, c := range cases {
		f := NewCANDataFrame()
		f.SetData(make([]byte, c.length))
		if f.DLC() != c.wantDLC {
			t.Errorf("length %d: got dlc %d want %d", c.length, f.DLC(), c.wantDLC)
		}
	}
}

func TestCANDataFrameExtendedIDFromMagnitude(t *testing.T) {
	f := NewCANDataFrame()
	f.SetMessageID(0x800) // low 29 bits > 0x7FF
	if !f.IsExtended() {
		t.Fatal("expected extended flag forced true for id > 0x7FF")
	}
	f2 := NewCANDataFrame()
	f2.SetMessageID(0x123)
	if f2.IsExtended() {
		t.Fatal("expected standard id to stay non-extended")
	}
}

func TestFromRawRejectsShortHeader(t *testing.T) {
	f := NewCANDataFrame()
	f.FromRaw([]byte{1, 2, 3})
	if f.Valid() {
		t.Fatal("expected invalid on short source")
	}
}

func TestFromRawRejectsDeclaredSizeExceedingSource(t *testing.T) {
	src := make([]byte, HeaderSize)
	PutUint16(src, 0, uint16(CANDataFrameType))
	PutUint32(src, 4, 1000) // declared size far exceeds len(src)
	f := NewCANDataFrame()
	f.FromRaw(src)
	if f.Valid() {
		t.Fatal("expected invalid when declared size exceeds source")
	}
}

func TestFromRawRejectsTruncatedPayload(t *testing.T) {
	f := NewCANDataFrame()
	f.SetData([]byte{1, 2, 3, 4})
	var raw []byte
	f.ToRaw(&raw)

	got := NewCANDataFrame()
	got.FromRaw(raw[:len(raw)-2])
	if got.Valid() {
		t.Fatal("expected invalid on truncated payload")
	}
}

func TestUnknownTypeHeaderRoundTrip(t *testing.T) {
	m := Create(Unknown)
	m.SetTimestamp(42)
	m.SetBusChannel(7)
	var raw []byte
	m.ToRaw(&raw)
	if len(raw) != HeaderSize {
		t.Fatalf("expected header-only size, got %d", len(raw))
	}
	got := Create(Unknown)
	got.FromRaw(raw)
	if !got.Valid() || got.Timestamp() != 42 || got.BusChannel() != 7 {
		t.Fatal("unknown message header round trip failed")
	}
}

func TestToStringSuppressedAboveLogLevel1(t *testing.T) {
	f := NewCANDataFrame()
	if s := f.ToString(2); s != "" {
		t.Fatalf("expected empty string at logLevel>1, got %q", s)
	}
	if s := f.ToString(1); s == "" {
		t.Fatal("expected non-empty string at logLevel<=1")
	}
}
