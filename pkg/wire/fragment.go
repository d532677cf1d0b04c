package wire

import (
	"fmt"

	"aeronet/pkg/seq"
)

// Fragment is one piece of a message as it appears on the wire, following a
// PacketHeader: msg_seq(2 LE) || lane_index(varint) || marker(1) ||
// payload_len(varint) || payload.
type Fragment struct {
	MsgSeq    seq.MessageSeq
	LaneIndex int
	Marker    Marker
	Payload   []byte
}

// AppendFragment encodes f and appends it to dst, returning the extended slice.
func AppendFragment(dst []byte, f Fragment) []byte {
	buf := make([]byte, seq.Size)
	seq.Encode(seq.Num(f.MsgSeq), buf)
	dst = append(dst, buf...)
	dst = PutUvarint(dst, uint64(f.LaneIndex))
	dst = append(dst, byte(f.Marker))
	dst = PutUvarint(dst, uint64(len(f.Payload)))
	dst = append(dst, f.Payload...)
	return dst
}

// EncodedLen returns the number of bytes AppendFragment would add for a
// fragment with the given lane index and payload length.
func EncodedLen(laneIndex, payloadLen int) int {
	return seq.Size + UvarintLen(uint64(laneIndex)) + 1 + UvarintLen(uint64(payloadLen)) + payloadLen
}

// DecodeFragment parses one Fragment from the front of src, returning it and
// the number of bytes consumed. The returned Payload aliases src; callers
// that retain it across further decodes must copy it first.
func DecodeFragment(src []byte) (Fragment, int, error) {
	if len(src) < seq.Size {
		return Fragment{}, 0, fmt.Errorf("wire: fragment truncated before msg_seq")
	}
	msgSeq := seq.MessageSeq(seq.Decode(src[:seq.Size]))
	off := seq.Size

	lane, n, err := Uvarint(src[off:])
	if err != nil {
		return Fragment{}, 0, fmt.Errorf("wire: fragment lane index: %w", err)
	}
	off += n

	if off >= len(src) {
		return Fragment{}, 0, fmt.Errorf("wire: fragment truncated before marker")
	}
	marker := Marker(src[off])
	if err := marker.Validate(); err != nil {
		return Fragment{}, 0, err
	}
	off++

	payloadLen, n, err := Uvarint(src[off:])
	if err != nil {
		return Fragment{}, 0, fmt.Errorf("wire: fragment payload length: %w", err)
	}
	off += n

	if uint64(off)+payloadLen > uint64(len(src)) {
		return Fragment{}, 0, fmt.Errorf("wire: fragment payload truncated: have %d, need %d", len(src)-off, payloadLen)
	}
	payload := src[off : off+int(payloadLen)]
	off += int(payloadLen)

	return Fragment{
		MsgSeq:    msgSeq,
		LaneIndex: int(lane),
		Marker:    marker,
		Payload:   payload,
	}, off, nil
}
