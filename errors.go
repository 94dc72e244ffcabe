// Package yatta holds the error kinds and wire-format constants shared by
// every core package (memrange, buffer, codec, diff, patch, vdir). It has no
// dependencies on the rest of the module so that any package may import it
// without creating cycles.
package yatta

import "errors"

// Error kinds returned (optionally wrapped via golang.org/x/xerrors) by the
// core packages. Callers should compare with errors.Is, since the packages
// that originate these may wrap them with call-site context.
var (
	// ErrOutOfRange is returned when an indexed access exceeds the bounds of
	// a MemoryRange or Buffer.
	ErrOutOfRange = errors.New("yatta: out of range")

	// ErrNullView is returned when an operation is attempted against a
	// MemoryRange with no backing storage.
	ErrNullView = errors.New("yatta: null view")

	// ErrEmptyInput is returned by operations that require at least one
	// non-empty input (Compress, Diff).
	ErrEmptyInput = errors.New("yatta: empty input")

	// ErrBadMagic is returned when a framed buffer's header magic does not
	// match the expected artifact type.
	ErrBadMagic = errors.New("yatta: bad magic")

	// ErrTruncated is returned when a framed buffer is shorter than its
	// declared header or payload.
	ErrTruncated = errors.New("yatta: truncated")

	// ErrCompressionFailed is returned when the underlying codec refuses to
	// compress the input.
	ErrCompressionFailed = errors.New("yatta: compression failed")

	// ErrDecompressionFailed is returned when the underlying codec refuses
	// to decompress the input.
	ErrDecompressionFailed = errors.New("yatta: decompression failed")

	// ErrUnknownInstructionTag is returned when an instruction stream
	// contains a tag outside {C, I, R}.
	ErrUnknownInstructionTag = errors.New("yatta: unknown instruction tag")

	// ErrHashMismatch is returned when a post-apply integrity check fails.
	ErrHashMismatch = errors.New("yatta: hash mismatch")

	// ErrVersionMismatch is returned when a delta entry's source hash does
	// not match the file's current payload in the VDir.
	ErrVersionMismatch = errors.New("yatta: version mismatch")

	// ErrFileMissing is returned when a U patch entry references a relative
	// path absent from the target VDir. A D entry for an absent path is
	// skipped, not an error.
	ErrFileMissing = errors.New("yatta: file missing")
)

// Magic header titles. Every framed artifact begins with the magic,
// NUL-padded to MagicSize bytes, followed by a variant payload.
const (
	MagicSize = 16

	MagicCompress = "yatta compress"
	MagicDiff     = "yatta diff"
	MagicPackage  = "yatta package"
	MagicPatch    = "yatta patch"
)

// Patch entry operations (§3 PatchFileEntry).
const (
	OpUpdate byte = 'U'
	OpNew    byte = 'N'
	OpDelete byte = 'D'
)
