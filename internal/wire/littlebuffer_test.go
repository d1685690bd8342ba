package wire

import "testing"

func TestLittleBufferRoundTrip(t *testing.T) {
	if v := NewLittleBuffer[uint8](0xAB).Value(); v != 0xAB {
		t.Fatalf("uint8 round trip: got %#x", v)
	}
	if v := NewLittleBuffer[uint16](0x1234).Value(); v != 0x1234 {
		t.Fatalf("uint16 round trip: got %#x", v)
	}
	if v := NewLittleBuffer[uint32](0xDEADBEEF).Value(); v != 0xDEADBEEF {
		t.Fatalf("uint32 round trip: got %#x", v)
	}
	if v := NewLittleBuffer[uint64](0x0102030405060708).Value(); v != 0x0102030405060708 {
		t.Fatalf("uint64 round trip: got %#x", v)
	}
}

func TestLittleBufferByteOrder(t *testing.T) {
	b := NewLittleBuffer[uint32](0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	got := b.Data()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestFromBytesOffset(t *testing.T) {
	src := []byte{0, 0, 0x78, 0x56, 0x34, 0x12, 0}
	got := FromBytes[uint32](src, 2).Value()
	if got != 0x12345678 {
		t.Fatalf("got %#x want 0x12345678", got)
	}
}

func TestPutAndReadHelpers(t *testing.T) {
	buf := make([]byte, 18)
	PutUint16(buf, 0, 0xBEEF)
	PutUint32(buf, 2, 0xCAFEBABE)
	PutUint64(buf, 6, 0x1122334455667788)
	PutUint16(buf, 14, 42)

	if Uint16(buf, 0) != 0xBEEF {
		t.Fatal("uint16 mismatch")
	}
	if Uint32(buf, 2) != 0xCAFEBABE {
		t.Fatal("uint32 mismatch")
	}
	if Uint64(buf, 6) != 0x1122334455667788 {
		t.Fatal("uint64 mismatch")
	}
	if Uint16(buf, 14) != 42 {
		t.Fatal("uint16 tail mismatch")
	}
}
