// Package memrange implements C1: a non-owning, bounds-checked view over a
// contiguous byte region. It never allocates or retains ownership of the
// bytes it views — the caller (typically a buffer.Buffer) must keep the
// backing storage alive for at least as long as the MemoryRange exists.
package memrange

import (
	"encoding/binary"
	"reflect"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/hash"
	"golang.org/x/xerrors"
)

// MemoryRange is a non-owning view over a byte slice. The zero value is a
// valid, empty range.
type MemoryRange struct {
	data []byte
}

// New wraps b in a MemoryRange. b is not copied; the caller retains
// ownership of it.
func New(b []byte) MemoryRange {
	return MemoryRange{data: b}
}

// Size returns the number of bytes in the range.
func (m MemoryRange) Size() int { return len(m.data) }

// Empty reports whether the range has zero length.
func (m MemoryRange) Empty() bool { return len(m.data) == 0 }

// Bytes returns the underlying slice. Callers must not retain it beyond the
// lifetime of the MemoryRange's backing storage, and must not mutate it
// through this view (use WriteRaw/WriteAs instead, which go through bounds
// checks).
func (m MemoryRange) Bytes() []byte { return m.data }

// IsWithin reports whether a length-byte access at offset would stay within
// bounds.
func (m MemoryRange) IsWithin(offset, length int) bool {
	if offset < 0 || length < 0 {
		return false
	}
	return offset+length <= len(m.data)
}

// Hash returns the deterministic 64-bit integrity tag of the range (C3).
func (m MemoryRange) Hash() uint64 {
	return hash.Bytes(m.data)
}

// ReadRaw returns a newly allocated copy of the length bytes starting at
// offset.
func (m MemoryRange) ReadRaw(offset, length int) ([]byte, error) {
	if m.data == nil {
		return nil, yatta.ErrNullView
	}
	if !m.IsWithin(offset, length) {
		return nil, xerrors.Errorf("read [%d:%d) of %d bytes: %w", offset, offset+length, len(m.data), yatta.ErrOutOfRange)
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

// WriteRaw writes src into the range starting at offset. The range must be
// backed by mutable storage (i.e. obtained from a buffer.Buffer).
func (m MemoryRange) WriteRaw(src []byte, offset int) error {
	if m.data == nil {
		return yatta.ErrNullView
	}
	if !m.IsWithin(offset, len(src)) {
		return xerrors.Errorf("write [%d:%d) of %d bytes: %w", offset, offset+len(src), len(m.data), yatta.ErrOutOfRange)
	}
	copy(m.data[offset:offset+len(src)], src)
	return nil
}

// Slice returns a sub-range [offset, offset+length), still non-owning over
// the same backing storage.
func (m MemoryRange) Slice(offset, length int) (MemoryRange, error) {
	if !m.IsWithin(offset, length) {
		return MemoryRange{}, xerrors.Errorf("slice [%d:%d) of %d bytes: %w", offset, offset+length, len(m.data), yatta.ErrOutOfRange)
	}
	return MemoryRange{data: m.data[offset : offset+length]}, nil
}

// podSize returns the fixed wire-size in bytes of a plain-old-data value of
// type T — uintN/intN types, whose byte representation can be copied
// verbatim under the host's native endianness.
func podSize[T any]() int {
	var zero T
	return int(reflect.TypeOf(zero).Size())
}

// ReadAs reads a POD value of type T at offset, interpreting the bytes under
// the host's native byte order (the wire format is explicitly
// endianness-sensitive per spec — see Design Notes "Integer widths &
// endianness").
func ReadAs[T ~uint64 | ~int64 | ~uint32 | ~int32 | ~byte](m MemoryRange, offset int) (T, error) {
	size := podSize[T]()
	raw, err := m.ReadRaw(offset, size)
	if err != nil {
		var zero T
		return zero, err
	}
	switch size {
	case 8:
		return T(nativeOrder.Uint64(raw)), nil
	case 4:
		return T(nativeOrder.Uint32(raw)), nil
	case 1:
		return T(raw[0]), nil
	default:
		var zero T
		return zero, xerrors.Errorf("unsupported POD size %d", size)
	}
}

// WriteAs writes a POD value of type T at offset under the host's native
// byte order.
func WriteAs[T ~uint64 | ~int64 | ~uint32 | ~int32 | ~byte](m MemoryRange, value T, offset int) error {
	size := podSize[T]()
	buf := make([]byte, size)
	switch size {
	case 8:
		nativeOrder.PutUint64(buf, uint64(value))
	case 4:
		nativeOrder.PutUint32(buf, uint32(value))
	case 1:
		buf[0] = byte(value)
	default:
		return xerrors.Errorf("unsupported POD size %d", size)
	}
	return m.WriteRaw(buf, offset)
}

// nativeOrder is the byte order used for all on-disk integers. The spec
// requires producer and consumer to share endianness (no cross-architecture
// portability is promised); we pin little-endian since that is what every
// mainstream Go build target uses, documenting the choice rather than
// relying on unsafe/native-order memcpy the way the original C++ did.
var nativeOrder = binary.LittleEndian
