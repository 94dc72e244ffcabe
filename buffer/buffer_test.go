package buffer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewSizeAllocatesDoubleCapacity(t *testing.T) {
	b := NewSize(10)
	if got, want := b.Size(), 10; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
	if got, want := b.Cap(), 20; got != want {
		t.Errorf("Cap() = %d, want %d", got, want)
	}
}

func TestFromBytesClone(t *testing.T) {
	src := []byte{1, 2, 3}
	b := FromBytes(src)
	src[0] = 0xff
	if diff := cmp.Diff([]byte{1, 2, 3}, b.Bytes()); diff != "" {
		t.Errorf("FromBytes did not copy (-want +got):\n%s", diff)
	}

	clone := b.Clone()
	b.Bytes()[0] = 0xee
	if diff := cmp.Diff([]byte{1, 2, 3}, clone.Bytes()); diff != "" {
		t.Errorf("Clone shares storage with original (-want +got):\n%s", diff)
	}
}

func TestResizeGrowPreservesPrefix(t *testing.T) {
	b := FromBytes([]byte{1, 2, 3})
	b.Resize(5)
	if got, want := b.Size(), 5; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 0, 0}, b.Bytes()); diff != "" {
		t.Errorf("Resize grow mismatch (-want +got):\n%s", diff)
	}
}

func TestResizeGrowPastCapacityReallocates(t *testing.T) {
	b := NewSize(4) // cap 8
	for i := 0; i < 4; i++ {
		b.Bytes()[i] = byte(i + 1)
	}
	b.Resize(20)
	if got, want := b.Cap(), 40; got != want {
		t.Errorf("Cap() = %d, want %d", got, want)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, b.Bytes()[:4]); diff != "" {
		t.Errorf("prefix not preserved across reallocation (-want +got):\n%s", diff)
	}
}

func TestResizeShrinkTruncates(t *testing.T) {
	b := FromBytes([]byte{1, 2, 3, 4, 5})
	b.Resize(2)
	if diff := cmp.Diff([]byte{1, 2}, b.Bytes()); diff != "" {
		t.Errorf("Resize shrink mismatch (-want +got):\n%s", diff)
	}
}

func TestShrinkSetsCapToSize(t *testing.T) {
	b := NewSize(3)
	b.Shrink()
	if got, want := b.Cap(), b.Size(); got != want {
		t.Errorf("Cap() = %d, want %d (== Size())", got, want)
	}
}

func TestClearResetsSizeAndCap(t *testing.T) {
	b := FromBytes([]byte{1, 2, 3})
	b.Clear()
	if !b.Empty() {
		t.Errorf("Empty() = false after Clear()")
	}
	if got, want := b.Cap(), 0; got != want {
		t.Errorf("Cap() = %d, want %d", got, want)
	}
}

func TestAppendReturnsOffset(t *testing.T) {
	b := New()
	off1 := b.Append([]byte("abc"))
	off2 := b.Append([]byte("de"))
	if off1 != 0 || off2 != 3 {
		t.Errorf("Append offsets = %d, %d, want 0, 3", off1, off2)
	}
	if diff := cmp.Diff([]byte("abcde"), b.Bytes()); diff != "" {
		t.Errorf("Append mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendUint64ReadUint64RoundTrip(t *testing.T) {
	b := New()
	off := b.AppendUint64(0x1122334455667788)
	got, err := b.ReadUint64(off)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if got != 0x1122334455667788 {
		t.Errorf("ReadUint64 = %#x, want %#x", got, uint64(0x1122334455667788))
	}
}

func TestHashStableAcrossEquivalentBuffers(t *testing.T) {
	a := FromBytes([]byte("payload"))
	b := FromBytes([]byte("payload"))
	if a.Hash() != b.Hash() {
		t.Errorf("Hash() differs for identical content")
	}
}
