package wire

import (
	"encoding/binary"
	"fmt"

	"aeronet/pkg/seq"
)

// HeaderLen is the fixed encoded length of a PacketHeader: 2 (packet_seq) +
// 2 (last_recv) + 4 (bits) = 8 bytes.
const HeaderLen = 8

// Acknowledge is the compact ack record carried in every PacketHeader:
// last_recv is the highest packet sequence the sender of this header has
// received, and bit n (0-indexed) set means last_recv-(n+1) was also
// received.
type Acknowledge struct {
	LastRecv seq.PacketSeq
	Bits     uint32
}

// PacketHeader prefixes every outgoing datagram.
type PacketHeader struct {
	PacketSeq seq.PacketSeq
	Acks      Acknowledge
}

// Encode writes the header into dst[:HeaderLen]. dst must have length >= HeaderLen.
func (h PacketHeader) Encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], uint16(h.PacketSeq))
	binary.LittleEndian.PutUint16(dst[2:4], uint16(h.Acks.LastRecv))
	binary.LittleEndian.PutUint32(dst[4:8], h.Acks.Bits)
}

// DecodeHeader parses a PacketHeader from the front of src.
func DecodeHeader(src []byte) (PacketHeader, error) {
	if len(src) < HeaderLen {
		return PacketHeader{}, fmt.Errorf("wire: packet header truncated: have %d bytes, need %d", len(src), HeaderLen)
	}
	return PacketHeader{
		PacketSeq: seq.PacketSeq(binary.LittleEndian.Uint16(src[0:2])),
		Acks: Acknowledge{
			LastRecv: seq.PacketSeq(binary.LittleEndian.Uint16(src[2:4])),
			Bits:     binary.LittleEndian.Uint32(src[4:8]),
		},
	}, nil
}

// Seqs returns the packet sequences this Acknowledge covers: LastRecv first,
// then for each set bit i in 0..31, LastRecv-(i+1).
func (a Acknowledge) Seqs() []seq.PacketSeq {
	out := make([]seq.PacketSeq, 0, 1+32)
	out = append(out, a.LastRecv)
	for i := 0; i < 32; i++ {
		if a.Bits&(1<<uint(i)) != 0 {
			out = append(out, a.LastRecv.Add(-(i + 1)))
		}
	}
	return out
}
