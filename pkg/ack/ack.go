// Package ack implements the receive-side ack bitfield state machine:
// tracking which of the most recently received packet sequences we should
// report back to our peer.
package ack

import (
	"aeronet/pkg/seq"
	"aeronet/pkg/wire"
)

// Tracker accumulates received PacketSeq values into a compact Acknowledge
// record suitable for embedding in an outgoing PacketHeader.
type Tracker struct {
	lastRecv seq.PacketSeq
	bits     uint32
	any      bool
}

// New creates an empty Tracker.
func New() *Tracker { return &Tracker{} }

// Observe records that packetSeq was received, updating lastRecv/bits.
// Packets older than 32 behind lastRecv, or already the current lastRecv,
// are ignored (too old / duplicate).
func (t *Tracker) Observe(packetSeq seq.PacketSeq) {
	if !t.any {
		t.lastRecv = packetSeq
		t.bits = 0
		t.any = true
		return
	}
	if seq.LessPacket(t.lastRecv, packetSeq) {
		shift := uint(t.lastRecv.DistTo(packetSeq))
		// Go shifts of width >= the operand's bit size yield 0, so a large
		// jump simply discards all history instead of needing a special case.
		t.bits = (t.bits << shift) | (uint32(1) << (shift - 1))
		t.lastRecv = packetSeq
		return
	}
	d := t.lastRecv.DistTo(packetSeq)
	if d < 0 {
		d = -d
	}
	if d >= 1 && d <= 32 {
		t.bits |= 1 << uint(d-1)
	}
	// else: too old or duplicate of lastRecv itself; ignored.
}

// Acknowledge returns the current Acknowledge record to embed in an
// outgoing PacketHeader.
func (t *Tracker) Acknowledge() wire.Acknowledge {
	return wire.Acknowledge{LastRecv: t.lastRecv, Bits: t.bits}
}
