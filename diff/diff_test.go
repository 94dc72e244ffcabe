package diff

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/memrange"
	"github.com/yatta-sync/yatta/patch"
	"github.com/yatta-sync/yatta/workerpool"
)

func roundTrip(t *testing.T, source, target []byte) []byte {
	t.Helper()
	pool := workerpool.New(4)
	defer pool.Shutdown()

	d, err := Diff(memrange.New(source), memrange.New(target), pool)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	result, err := patch.Patch(memrange.New(source), d.Range())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	return result.Bytes()
}

func TestDiffPatchRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	randomBytes := func(n int) []byte {
		b := make([]byte, n)
		rng.Read(b)
		return b
	}

	for _, test := range []struct {
		desc   string
		source []byte
		target []byte
	}{
		{desc: "identical", source: []byte("the quick brown fox"), target: []byte("the quick brown fox")},
		{desc: "append", source: []byte("hello"), target: []byte("hello world")},
		{desc: "prepend", source: []byte("world"), target: []byte("hello world")},
		{desc: "middle insertion", source: []byte("helloworld"), target: []byte("hello, cruel world")},
		{desc: "deletion", source: []byte("hello, cruel world"), target: []byte("hello world")},
		{desc: "total replacement", source: []byte("aaaaaaaaaa"), target: []byte("bbbbbbbbbb")},
		{desc: "empty source", source: nil, target: []byte("brand new content")},
		{desc: "empty target", source: []byte("going away"), target: nil},
		{desc: "long repeat run", source: bytes.Repeat([]byte("ab"), 5), target: append(bytes.Repeat([]byte("ab"), 5), bytes.Repeat([]byte{'c'}, 200)...)},
		{desc: "multi window", source: randomBytes(10000), target: append(randomBytes(10000)[:4000:4000], randomBytes(6000)...)},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got := roundTrip(t, test.source, test.target)
			if !bytes.Equal(got, test.target) {
				t.Errorf("round trip produced %d bytes, want %d bytes matching target", len(got), len(test.target))
			}
		})
	}
}

func TestDiffBothEmptyIsError(t *testing.T) {
	pool := workerpool.New(1)
	defer pool.Shutdown()
	if _, err := Diff(memrange.New(nil), memrange.New(nil), pool); !errors.Is(err, yatta.ErrEmptyInput) {
		t.Errorf("Diff(empty, empty) err = %v, want ErrEmptyInput", err)
	}
}

func TestDiffIdenticalBuffersProduceMostlyCopies(t *testing.T) {
	pool := workerpool.New(4)
	defer pool.Shutdown()

	data := bytes.Repeat([]byte("0123456789"), 500) // 5000 bytes, well over minMatch
	d, err := Diff(memrange.New(data), memrange.New(data), pool)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	// A diff of identical content should compress to much less than the
	// raw data size, since the match series should cover nearly all of it.
	if d.Size() >= len(data) {
		t.Errorf("Diff(identical) size = %d, want < %d (source size)", d.Size(), len(data))
	}
}

func TestDiffLargeTargetSizeRecorded(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Shutdown()

	source := []byte("short")
	target := bytes.Repeat([]byte("x"), 50000)
	d, err := Diff(memrange.New(source), memrange.New(target), pool)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	targetSize, err := memrange.ReadAs[uint64](d.Range(), yatta.MagicSize)
	if err != nil {
		t.Fatalf("reading recorded target size: %v", err)
	}
	if int(targetSize) != len(target) {
		t.Errorf("recorded target size = %d, want %d", targetSize, len(target))
	}

	result, err := patch.Patch(memrange.New(source), d.Range())
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Equal(result.Bytes(), target) {
		t.Errorf("patched result does not match target")
	}
}
