package ack

import (
	"testing"

	"aeronet/pkg/seq"
)

func TestObserveFirstPacket(t *testing.T) {
	tr := New()
	tr.Observe(5)
	a := tr.Acknowledge()
	if a.LastRecv != 5 || a.Bits != 0 {
		t.Errorf("got %+v, want LastRecv=5 Bits=0", a)
	}
}

func TestObserveSequentialAdvances(t *testing.T) {
	tr := New()
	tr.Observe(1)
	tr.Observe(2)
	a := tr.Acknowledge()
	if a.LastRecv != 2 {
		t.Fatalf("LastRecv = %d, want 2", a.LastRecv)
	}
	if a.Bits&1 == 0 {
		t.Errorf("expected bit 0 set (packet 1 was received), bits=%b", a.Bits)
	}
}

func TestObserveOutOfOrderSetsBit(t *testing.T) {
	tr := New()
	tr.Observe(10)
	tr.Observe(7) // 3 behind lastRecv
	a := tr.Acknowledge()
	if a.LastRecv != 10 {
		t.Fatalf("LastRecv should not move backwards, got %d", a.LastRecv)
	}
	want := uint32(1) << 2 // d=3 -> bit index d-1=2
	if a.Bits != want {
		t.Errorf("Bits = %b, want %b", a.Bits, want)
	}
}

func TestObserveTooOldIgnored(t *testing.T) {
	tr := New()
	tr.Observe(100)
	tr.Observe(60) // distance 40 > 32, ignored
	a := tr.Acknowledge()
	if a.Bits != 0 {
		t.Errorf("expected no bits set for too-old packet, got %b", a.Bits)
	}
}

func TestObserveDuplicateOfLastRecvIgnored(t *testing.T) {
	tr := New()
	tr.Observe(5)
	tr.Observe(5)
	a := tr.Acknowledge()
	if a.LastRecv != 5 || a.Bits != 0 {
		t.Errorf("duplicate should not change state, got %+v", a)
	}
}

func TestObserveLargeJumpDiscardsHistory(t *testing.T) {
	tr := New()
	tr.Observe(1)
	tr.Observe(2)
	tr.Observe(seq.PacketSeq(2).Add(1000))
	a := tr.Acknowledge()
	if a.LastRecv != seq.PacketSeq(2).Add(1000) {
		t.Fatalf("LastRecv not updated to latest")
	}
	// The jump is far past the 32-bit window: every previously-received
	// sequence falls out of range, so no bits survive.
	if a.Bits != 0 {
		t.Errorf("expected all history discarded after a jump past the bitfield, bits=%b", a.Bits)
	}
}

func TestSeqsIterationOrder(t *testing.T) {
	tr := New()
	for _, s := range []seq.PacketSeq{1, 2, 3, 5} {
		tr.Observe(s)
	}
	got := tr.Acknowledge().Seqs()
	if got[0] != 5 {
		t.Errorf("first element should be lastRecv=5, got %d", got[0])
	}
}
