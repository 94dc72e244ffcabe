// Package patch implements C7: the Patcher. It consumes a framed "yatta
// diff" artifact produced by package diff and reconstructs the target bytes
// from the source bytes, grounded on
// original_source/src/nSuite/src/BufferTools.cpp's BFT::PatchBuffer (§4.7).
package patch

import (
	"bytes"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/codec"
	"github.com/yatta-sync/yatta/instruction"
	"github.com/yatta-sync/yatta/memrange"
	"golang.org/x/xerrors"
)

// Patch reconstructs the target bytes described by diff, applying its
// instruction stream against source.
func Patch(source memrange.MemoryRange, diff memrange.MemoryRange) (*buffer.Buffer, error) {
	raw := diff.Bytes()
	if len(raw) < yatta.MagicSize+8 {
		return nil, xerrors.Errorf("diff frame: %w", yatta.ErrTruncated)
	}
	if err := verifyMagic(raw[:yatta.MagicSize], yatta.MagicDiff); err != nil {
		return nil, err
	}
	targetSize, err := memrange.ReadAs[uint64](diff, yatta.MagicSize)
	if err != nil {
		return nil, xerrors.Errorf("reading target size: %w", err)
	}

	compressedBody, err := diff.Slice(yatta.MagicSize+8, diff.Size()-(yatta.MagicSize+8))
	if err != nil {
		return nil, xerrors.Errorf("diff body: %w", yatta.ErrTruncated)
	}
	body, err := codec.Decompress(compressedBody)
	if err != nil {
		return nil, err
	}

	instructions, err := instruction.DecodeAll(body.Range())
	if err != nil {
		return nil, err
	}

	result := buffer.NewSize(int(targetSize))
	dst := result.Bytes()
	src := source.Bytes()
	for _, inst := range instructions {
		inst.Apply(dst, src)
	}
	return result, nil
}

func verifyMagic(header []byte, want string) error {
	nul := bytes.IndexByte(header, 0)
	if nul == -1 {
		nul = len(header)
	}
	if string(header[:nul]) != want {
		return xerrors.Errorf("magic %q != %q: %w", header[:nul], want, yatta.ErrBadMagic)
	}
	return nil
}
