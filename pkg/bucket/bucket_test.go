package bucket

import (
	"testing"
	"time"
)

func TestTryConsume(t *testing.T) {
	b := New(100, 50)
	if !b.TryConsume(100) {
		t.Fatal("expected to consume full capacity")
	}
	if b.TryConsume(1) {
		t.Fatal("expected consume to fail when empty")
	}
}

func TestRefillCapsAtCapacity(t *testing.T) {
	b := New(100, 1000)
	b.TryConsume(100)
	b.Refill(5 * time.Second) // would gain 5000, capped to 100
	if b.Available() != 100 {
		t.Errorf("Available() = %d, want 100", b.Available())
	}
}

func TestRefillPartial(t *testing.T) {
	b := New(1000, 100) // 100 bytes/sec
	b.TryConsume(1000)
	b.Refill(500 * time.Millisecond)
	if b.Available() != 50 {
		t.Errorf("Available() = %d, want 50", b.Available())
	}
}

func TestByteBucketConservation(t *testing.T) {
	// bytes_emitted_during(elapsed) <= initial + refill_rate*elapsed
	b := New(200, 100)
	initial := b.Available()
	elapsed := 3 * time.Second
	limit := initial + int(elapsed.Seconds()*100)

	emitted := 0
	remaining := elapsed
	step := 250 * time.Millisecond
	for remaining > 0 {
		b.Refill(step)
		for b.TryConsume(17) {
			emitted += 17
		}
		remaining -= step
	}
	if emitted > limit {
		t.Errorf("emitted %d bytes, exceeds conservation bound %d", emitted, limit)
	}
}
