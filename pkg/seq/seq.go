// Package seq implements wrap-aware ordering over 16-bit sequence numbers.
//
// All sequence spaces in aeronet (packet sequences and per-lane message
// sequences) share the same arithmetic: comparison is only meaningful when
// the true distance between two values is less than 2^15.
package seq

import "encoding/binary"

// Num is a 16-bit wrap-aware sequence number.
type Num uint16

// Size is the wire-encoded length of a Num.
const Size = 2

// Add returns self advanced by delta, wrapping mod 2^16.
func (n Num) Add(delta int) Num {
	return Num(uint16(int32(n) + int32(delta)))
}

// DistTo returns the signed distance from n to other, i.e. wrapping_sub(other, n)
// interpreted as a signed 16-bit value. It is only meaningful when the true
// distance between n and other is less than 2^15.
func (n Num) DistTo(other Num) int16 {
	return int16(uint16(other) - uint16(n))
}

// Less reports whether a precedes b in wrap-aware order: wrapping_sub(b, a) > 0.
func Less(a, b Num) bool {
	return a.DistTo(b) > 0
}

// Greater reports whether a follows b in wrap-aware order.
func Greater(a, b Num) bool {
	return Less(b, a)
}

// LessEq reports whether a precedes or equals b in wrap-aware order.
func LessEq(a, b Num) bool {
	return a == b || Less(a, b)
}

// Cmp returns -1, 0 or 1 for a<b, a==b, a>b under wrap-aware ordering.
func Cmp(a, b Num) int {
	if a == b {
		return 0
	}
	if Less(a, b) {
		return -1
	}
	return 1
}

// Encode writes n as 2 little-endian bytes.
func Encode(n Num, dst []byte) {
	binary.LittleEndian.PutUint16(dst, uint16(n))
}

// Decode reads a Num from 2 little-endian bytes.
func Decode(src []byte) Num {
	return Num(binary.LittleEndian.Uint16(src))
}

// PacketSeq identifies a transmitted packet within one direction of a session.
type PacketSeq Num

// Add advances a PacketSeq by delta, wrapping mod 2^16.
func (p PacketSeq) Add(delta int) PacketSeq { return PacketSeq(Num(p).Add(delta)) }

// DistTo returns the signed wrap-aware distance from p to other.
func (p PacketSeq) DistTo(other PacketSeq) int16 { return Num(p).DistTo(Num(other)) }

// LessPacket reports wrap-aware ordering between two PacketSeq values.
func LessPacket(a, b PacketSeq) bool { return Less(Num(a), Num(b)) }

// MessageSeq identifies an application message within one lane's namespace.
type MessageSeq Num

// Add advances a MessageSeq by delta, wrapping mod 2^16.
func (m MessageSeq) Add(delta int) MessageSeq { return MessageSeq(Num(m).Add(delta)) }

// DistTo returns the signed wrap-aware distance from m to other.
func (m MessageSeq) DistTo(other MessageSeq) int16 { return Num(m).DistTo(Num(other)) }

// LessMessage reports wrap-aware ordering between two MessageSeq values.
func LessMessage(a, b MessageSeq) bool { return Less(Num(a), Num(b)) }

// LessEqMessage reports wrap-aware ordering (a precedes or equals b).
func LessEqMessage(a, b MessageSeq) bool { return LessEq(Num(a), Num(b)) }
