// Package instruction implements the §3 Instruction tagged union (Copy,
// Insert, Repeat) and its wire encoding, replacing the original C++
// project's class-hierarchy/std::variant design (see
// original_source/src/nSuite/include/Instructions.h) with an explicit
// 1-byte tag and an exhaustive switch in both directions, per the spec's
// Design Notes ("Variant instructions").
package instruction

import (
	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/memrange"
	"golang.org/x/xerrors"
)

// Tags for the wire-format 1-byte discriminant.
const (
	TagCopy   byte = 'C'
	TagInsert byte = 'I'
	TagRepeat byte = 'R'
)

// Instruction is implemented by Copy, Insert, and Repeat. Apply writes this
// instruction's effect into dst (indexed by TargetIndex), clamped to
// len(dst); src is the full source buffer, used only by Copy.
type Instruction interface {
	Tag() byte
	Index() uint64
	Apply(dst []byte, src []byte)
	Encode(dst *buffer.Buffer)
}

// Copy writes source[SourceBegin:SourceEnd) into target[TargetIndex:).
type Copy struct {
	TargetIndex uint64
	SourceBegin uint64
	SourceEnd   uint64
}

func (c Copy) Tag() byte     { return TagCopy }
func (c Copy) Index() uint64 { return c.TargetIndex }

func (c Copy) Apply(dst []byte, src []byte) {
	begin, end := clampRange(c.SourceBegin, c.SourceEnd, uint64(len(src)))
	n := end - begin
	writeClamped(dst, c.TargetIndex, src[begin:begin+n])
}

func (c Copy) Encode(dst *buffer.Buffer) {
	dst.Append([]byte{TagCopy})
	dst.AppendUint64(c.TargetIndex)
	dst.AppendUint64(c.SourceBegin)
	dst.AppendUint64(c.SourceEnd)
}

// Insert writes Data into target[TargetIndex:).
type Insert struct {
	TargetIndex uint64
	Data        []byte
}

func (i Insert) Tag() byte     { return TagInsert }
func (i Insert) Index() uint64 { return i.TargetIndex }

func (i Insert) Apply(dst []byte, _ []byte) {
	writeClamped(dst, i.TargetIndex, i.Data)
}

func (i Insert) Encode(dst *buffer.Buffer) {
	dst.Append([]byte{TagInsert})
	dst.AppendUint64(i.TargetIndex)
	dst.AppendUint64(uint64(len(i.Data)))
	dst.Append(i.Data)
}

// Repeat fills target[TargetIndex:TargetIndex+Count) with Value.
type Repeat struct {
	TargetIndex uint64
	Count       uint64
	Value       byte
}

func (r Repeat) Tag() byte     { return TagRepeat }
func (r Repeat) Index() uint64 { return r.TargetIndex }

func (r Repeat) Apply(dst []byte, _ []byte) {
	if r.TargetIndex >= uint64(len(dst)) {
		return
	}
	n := uint64(len(dst)) - r.TargetIndex
	if r.Count < n {
		n = r.Count
	}
	for i := uint64(0); i < n; i++ {
		dst[r.TargetIndex+i] = r.Value
	}
}

func (r Repeat) Encode(dst *buffer.Buffer) {
	dst.Append([]byte{TagRepeat})
	dst.AppendUint64(r.TargetIndex)
	dst.AppendUint64(r.Count)
	dst.Append([]byte{r.Value})
}

// writeClamped writes data into dst starting at index, silently truncating
// any portion that would fall past len(dst) (an overlong or corrupt
// instruction must never panic — §4.7 step 4).
func writeClamped(dst []byte, index uint64, data []byte) {
	if index >= uint64(len(dst)) {
		return
	}
	room := uint64(len(dst)) - index
	n := uint64(len(data))
	if n > room {
		n = room
	}
	copy(dst[index:index+n], data[:n])
}

// clampRange clamps [begin, end) to [0, limit], returning a valid,
// non-decreasing pair. Used by Copy.Apply so that a corrupt instruction
// referencing past the source's end truncates instead of panicking.
func clampRange(begin, end, limit uint64) (uint64, uint64) {
	if begin > limit {
		begin = limit
	}
	if end > limit {
		end = limit
	}
	if end < begin {
		end = begin
	}
	return begin, end
}

// byteReader is a minimal cursor over a memrange.MemoryRange, used to decode
// an instruction stream sequentially.
type byteReader struct {
	r   memrange.MemoryRange
	pos int
}

// NewReader returns a reader positioned at the start of r.
func NewReader(r memrange.MemoryRange) *byteReader {
	return &byteReader{r: r}
}

// Pos returns the reader's current offset.
func (b *byteReader) Pos() int { return b.pos }

// Done reports whether the reader has consumed the whole range.
func (b *byteReader) Done() bool { return b.pos >= b.r.Size() }

func (b *byteReader) readByte() (byte, error) {
	raw, err := b.r.ReadRaw(b.pos, 1)
	if err != nil {
		return 0, xerrors.Errorf("reading tag: %w", yatta.ErrTruncated)
	}
	b.pos++
	return raw[0], nil
}

func (b *byteReader) readUint64() (uint64, error) {
	v, err := memrange.ReadAs[uint64](b.r, b.pos)
	if err != nil {
		return 0, xerrors.Errorf("reading u64: %w", yatta.ErrTruncated)
	}
	b.pos += 8
	return v, nil
}

func (b *byteReader) readBytes(n int) ([]byte, error) {
	raw, err := b.r.ReadRaw(b.pos, n)
	if err != nil {
		return nil, xerrors.Errorf("reading %d bytes: %w", n, yatta.ErrTruncated)
	}
	b.pos += n
	return raw, nil
}

// Decode reads one instruction from r, dispatching on its wire tag.
func Decode(r *byteReader) (Instruction, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagCopy:
		index, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		begin, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		end, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		return Copy{TargetIndex: index, SourceBegin: begin, SourceEnd: end}, nil

	case TagInsert:
		index, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		length, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		data, err := r.readBytes(int(length))
		if err != nil {
			return nil, err
		}
		if length == 0 {
			data = nil
		}
		return Insert{TargetIndex: index, Data: data}, nil

	case TagRepeat:
		index, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		count, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		value, err := r.readByte()
		if err != nil {
			return nil, err
		}
		return Repeat{TargetIndex: index, Count: count, Value: value}, nil

	default:
		return nil, xerrors.Errorf("tag %q: %w", tag, yatta.ErrUnknownInstructionTag)
	}
}

// DecodeAll decodes every instruction in r until exhausted.
func DecodeAll(r memrange.MemoryRange) ([]Instruction, error) {
	cur := NewReader(r)
	var out []Instruction
	for !cur.Done() {
		inst, err := Decode(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
