// Package wire implements aeronet's fixed wire formats: LEB128-style
// varints, the FragmentMarker byte, the PacketHeader, and fragment framing.
// All multi-byte integers are little-endian; varints follow the usual
// "7 bits payload, high bit = continuation" shape.
package wire

import "fmt"

// maxVarintLen is the longest a varint encoding a uint64 may legally be.
// ceil(64/7) = 10.
const maxVarintLen = 10

// PutUvarint appends the LEB128-style varint encoding of v to dst, returning
// the extended slice.
func PutUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uvarint decodes a varint from the front of src, returning the value, the
// number of bytes consumed, and an error if src is truncated or the varint
// is malformed (longer than necessary to encode a uint64).
func Uvarint(src []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(src); i++ {
		if i == maxVarintLen {
			return 0, 0, fmt.Errorf("wire: varint longer than %d bytes", maxVarintLen)
		}
		b := src[i]
		if i == maxVarintLen-1 && b > 1 {
			// 10th byte may only contribute its single remaining bit
			// (9*7 = 63 bits already consumed; 1 bit left for bit 63).
			return 0, 0, fmt.Errorf("wire: varint overflows uint64")
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("wire: truncated varint")
}

// UvarintLen returns the number of bytes PutUvarint would emit for v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
