// Package codec implements C4: framed LZ4-style compress/decompress. The
// frame is a 16-byte zero-padded magic ("yatta compress") followed by a u64
// uncompressed size and the compressed payload, matching §3/§6. Compression
// itself is delegated to github.com/klauspost/compress/lz4 — the teacher's
// go.mod already depends on the klauspost/compress module, and
// original_source links the reference LZ4 library directly
// (LZ4_compress_default/LZ4_decompress_safe), so this is the one compressor
// the format ever speaks.
package codec

import (
	"bytes"
	"io"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/memrange"
	"github.com/klauspost/compress/lz4"
	"golang.org/x/xerrors"
)

// writeMagic writes a 16-byte, NUL-padded magic string into dst at offset 0.
func writeMagic(dst *buffer.Buffer, magic string) {
	header := make([]byte, yatta.MagicSize)
	copy(header, magic)
	dst.Append(header)
}

// readMagic reads the 16-byte magic at the start of src and verifies it
// string-equals want (comparing up to the first NUL, never by length or
// trailing garbage).
func readMagic(src []byte, want string) error {
	if len(src) < yatta.MagicSize {
		return xerrors.Errorf("header: %w", yatta.ErrTruncated)
	}
	got := src[:yatta.MagicSize]
	nul := bytes.IndexByte(got, 0)
	if nul == -1 {
		nul = len(got)
	}
	if string(got[:nul]) != want {
		return xerrors.Errorf("magic %q != %q: %w", got[:nul], want, yatta.ErrBadMagic)
	}
	return nil
}

// Compress implements §4.4 Codec.compress: it frames the LZ4 compression of
// src behind a "yatta compress" header carrying the uncompressed size.
func Compress(src memrange.MemoryRange) (*buffer.Buffer, error) {
	if src.Empty() {
		return nil, yatta.ErrEmptyInput
	}

	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(src.Bytes()); err != nil {
		zw.Close()
		return nil, xerrors.Errorf("lz4 compress: %w: %v", yatta.ErrCompressionFailed, err)
	}
	if err := zw.Close(); err != nil {
		return nil, xerrors.Errorf("lz4 compress flush: %w: %v", yatta.ErrCompressionFailed, err)
	}

	out := buffer.New()
	writeMagic(out, yatta.MagicCompress)
	out.AppendUint64(uint64(src.Size()))
	out.Append(compressed.Bytes())
	out.Shrink()
	return out, nil
}

// Decompress implements §4.4 Codec.decompress: it verifies the
// "yatta compress" header and returns the decompressed payload at exactly
// the declared uncompressed size.
func Decompress(src memrange.MemoryRange) (*buffer.Buffer, error) {
	const headerSize = yatta.MagicSize + 8
	if src.Size() < headerSize {
		return nil, xerrors.Errorf("compressed frame: %w", yatta.ErrTruncated)
	}
	raw := src.Bytes()
	if err := readMagic(raw, yatta.MagicCompress); err != nil {
		return nil, err
	}
	uncompressedSize, err := memrange.ReadAs[uint64](src, yatta.MagicSize)
	if err != nil {
		return nil, xerrors.Errorf("reading uncompressed size: %w", err)
	}

	payload := raw[headerSize:]
	zr := lz4.NewReader(bytes.NewReader(payload))

	// Read in fixed-size chunks rather than allocating uncompressedSize up
	// front: a corrupt or adversarial header can declare an enormous size
	// the actual lz4 stream never backs, and preallocating that size before
	// the first read would let one malformed frame exhaust memory. Each
	// chunk only grows out once the reader has actually produced that much
	// data.
	const chunkSize = 1 << 16
	out := buffer.New()
	chunk := make([]byte, chunkSize)
	var total uint64
	for total < uncompressedSize {
		want := chunkSize
		if rem := uncompressedSize - total; rem < uint64(want) {
			want = int(rem)
		}
		n, err := io.ReadFull(zr, chunk[:want])
		total += uint64(n)
		if n > 0 {
			out.Append(chunk[:n])
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, xerrors.Errorf("lz4 decompress: %w: %v", yatta.ErrDecompressionFailed, err)
		}
	}
	if total != uncompressedSize {
		return nil, xerrors.Errorf("decompressed %d of %d bytes: %w", total, uncompressedSize, yatta.ErrTruncated)
	}
	return out, nil
}
