// Package hash implements C3: a deterministic, non-cryptographic 64-bit
// integrity tag over a byte range, matching the reference algorithm in
// original_source/src/nSuite/src/BufferTools.cpp's BFT::HashBuffer. It is
// not a cryptographic digest — collisions are possible and acceptable for
// version-skew detection, never for authentication.
package hash

import "encoding/binary"

// nativeOrder is the byte order used to fold 8-byte words. See
// memrange.nativeOrder for the rationale (pinned little-endian).
var nativeOrder = binary.LittleEndian

// Bytes computes the §4.3 rolling hash of b: h starts at 1234567890, folds
// whole 8-byte little-endian words as h = h*33 + word, then folds any
// trailing bytes individually the same way.
func Bytes(b []byte) uint64 {
	h := uint64(1234567890)
	n := len(b)
	words := n / 8
	for i := 0; i < words; i++ {
		word := nativeOrder.Uint64(b[i*8 : i*8+8])
		h = (h * 33) + word
	}
	for i := words * 8; i < n; i++ {
		h = (h * 33) + uint64(b[i])
	}
	return h
}
