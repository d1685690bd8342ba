// Package wire implements the little-endian codec and bus message types
// shared by every transport in this module.
package wire

// Unsigned is the set of integer widths the codec supports.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// LittleBuffer is a fixed-width little-endian window over an integer value.
// It round-trips on any host regardless of native endianness: construction
// from a value always stores bytes low-byte-first, and Value always
// reconstructs by reading low-byte-first.
type LittleBuffer[T Unsigned] struct {
	data []byte
}

// NewLittleBuffer stores v as a little-endian byte window of width
// sizeof(T).
func NewLittleBuffer[T Unsigned](v T) LittleBuffer[T] {
	b := LittleBuffer[T]{data: make([]byte, widthOf[T]())}
	put(b.data, uint64(v))
	return b
}

// FromBytes reads a little-endian window of width sizeof(T) starting at
// offset from src.
func FromBytes[T Unsigned](src []byte, offset int) LittleBuffer[T] {
	w := widthOf[T]()
	b := LittleBuffer[T]{data: make([]byte, w)}
	copy(b.data, src[offset:offset+w])
	return b
}

// Value reconstructs the integer from the stored little-endian bytes.
func (b LittleBuffer[T]) Value() T {
	var v uint64
	for i := len(b.data) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b.data[i])
	}
	return T(v)
}

// Data returns the raw little-endian bytes.
func (b LittleBuffer[T]) Data() []byte { return b.data }

// Len returns the width in bytes.
func (b LittleBuffer[T]) Len() int { return len(b.data) }

func widthOf[T Unsigned]() int {
	var z T
	switch any(z).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	case uint64:
		return 8
	default:
		return 0
	}
}

func put(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v)
		v >>= 8
	}
}

// PutUint16 writes v little-endian into dst[offset:offset+2].
func PutUint16(dst []byte, offset int, v uint16) {
	dst[offset] = byte(v)
	dst[offset+1] = byte(v >> 8)
}

// PutUint32 writes v little-endian into dst[offset:offset+4].
func PutUint32(dst []byte, offset int, v uint32) {
	dst[offset] = byte(v)
	dst[offset+1] = byte(v >> 8)
	dst[offset+2] = byte(v >> 16)
	dst[offset+3] = byte(v >> 24)
}

// PutUint64 writes v little-endian into dst[offset:offset+8].
func PutUint64(dst []byte, offset int, v uint64) {
	for i := 0; i < 8; i++ {
		dst[offset+i] = byte(v >> (8 * i))
	}
}

// Uint16 reads a little-endian uint16 from src[offset:offset+2].
func Uint16(src []byte, offset int) uint16 {
	return uint16(src[offset]) | uint16(src[offset+1])<<8
}

// Uint32 reads a little-endian uint32 from src[offset:offset+4].
func Uint32(src []byte, offset int) uint32 {
	return uint32(src[offset]) | uint32(src[offset+1])<<8 |
		uint32(src[offset+2])<<16 | uint32(src[offset+3])<<24
}

// Uint64 reads a little-endian uint64 from src[offset:offset+8].
func Uint64(src []byte, offset int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(src[offset+i]) << (8 * i)
	}
	return v
}
