// Package buffer implements C2: an owning, growable byte container built on
// top of memrange.MemoryRange. A Buffer owns its storage; a MemoryRange
// obtained from it is a non-owning view of that storage.
package buffer

import (
	"github.com/yatta-sync/yatta/memrange"
)

// Buffer is an exclusively-owning, growable byte container. The zero value
// is an empty buffer with no capacity, ready to use.
type Buffer struct {
	data []byte // len(data) == used size
	cap  int    // capacity, always >= len(data)
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewSize returns a Buffer with used size n, capacity 2n, and zeroed
// contents, matching §4.2's "construct with initial size" semantics.
func NewSize(n int) *Buffer {
	b := &Buffer{}
	if n <= 0 {
		return b
	}
	b.data = make([]byte, n, 2*n)
	b.cap = 2 * n
	return b
}

// FromBytes returns a Buffer taking ownership of a copy of src.
func FromBytes(src []byte) *Buffer {
	b := NewSize(len(src))
	copy(b.data, src)
	return b
}

// Clone returns a deep copy of b.
func (b *Buffer) Clone() *Buffer {
	out := NewSize(b.Size())
	copy(out.data, b.data)
	return out
}

// Size returns the used size of the buffer.
func (b *Buffer) Size() int { return len(b.data) }

// Cap returns the buffer's current capacity.
func (b *Buffer) Cap() int { return b.cap }

// Empty reports whether the buffer has zero used size.
func (b *Buffer) Empty() bool { return len(b.data) == 0 }

// Range returns a non-owning MemoryRange over the buffer's used prefix.
// Mutations through the returned range are visible in the buffer (they
// share backing storage) until the next Resize/Shrink/Clear invalidates it,
// per the spec's invalidation rule.
func (b *Buffer) Range() memrange.MemoryRange {
	return memrange.New(b.data)
}

// Bytes returns the buffer's used prefix directly. Callers must not retain
// it across a Resize/Shrink/Clear call.
func (b *Buffer) Bytes() []byte { return b.data }

// Resize grows or shrinks the used size to n. Growing past the current
// capacity reallocates at 2n capacity and invalidates any previously
// obtained raw pointers/ranges, per §4.2.
func (b *Buffer) Resize(n int) {
	if n < 0 {
		n = 0
	}
	if n <= b.cap {
		if n > len(b.data) {
			// Extend within existing capacity; new bytes are zeroed.
			grown := make([]byte, n)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:n]
		}
		return
	}
	newCap := 2 * n
	grown := make([]byte, n, newCap)
	copy(grown, b.data)
	b.data = grown
	b.cap = newCap
}

// Shrink sets capacity to the current used size.
func (b *Buffer) Shrink() {
	if b.cap == len(b.data) {
		return
	}
	trimmed := make([]byte, len(b.data))
	copy(trimmed, b.data)
	b.data = trimmed
	b.cap = len(trimmed)
}

// Clear releases the buffer's storage, setting used size and capacity to
// zero.
func (b *Buffer) Clear() {
	b.data = nil
	b.cap = 0
}

// ReadRaw copies length bytes starting at offset.
func (b *Buffer) ReadRaw(offset, length int) ([]byte, error) {
	return b.Range().ReadRaw(offset, length)
}

// WriteRaw writes src into the buffer's used prefix starting at offset.
func (b *Buffer) WriteRaw(src []byte, offset int) error {
	return b.Range().WriteRaw(src, offset)
}

// Append grows the buffer by len(src) and writes src at the end, returning
// the offset it was written at. This is the common case used by codec/diff
// when assembling a framed artifact incrementally.
func (b *Buffer) Append(src []byte) int {
	offset := b.Size()
	b.Resize(offset + len(src))
	copy(b.data[offset:], src)
	return offset
}

// Hash returns the buffer's current integrity tag (C3, over the used
// prefix).
func (b *Buffer) Hash() uint64 {
	return b.Range().Hash()
}

// AppendUint64 appends a native-endian u64 to the buffer and returns the
// offset it was written at.
func (b *Buffer) AppendUint64(v uint64) int {
	offset := b.Size()
	b.Resize(offset + 8)
	_ = memrange.WriteAs(b.Range(), v, offset)
	return offset
}

// ReadUint64 reads a native-endian u64 at offset.
func (b *Buffer) ReadUint64(offset int) (uint64, error) {
	return memrange.ReadAs[uint64](b.Range(), offset)
}
