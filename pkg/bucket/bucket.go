// Package bucket implements a byte-denominated token bucket used to cap the
// rate at which a session (or a single lane within a session) emits bytes
// onto the substrate.
package bucket

import "time"

// Bucket is a token-bucket limiter measuring bytes rather than generic
// "tokens". Capacity and available are both byte counts.
type Bucket struct {
	capacity   int
	available  int
	refillRate int // bytes per second
}

// New creates a Bucket starting full, with the given capacity and refill rate.
func New(capacity, refillRatePerSec int) *Bucket {
	return &Bucket{
		capacity:   capacity,
		available:  capacity,
		refillRate: refillRatePerSec,
	}
}

// Capacity returns the bucket's maximum byte capacity.
func (b *Bucket) Capacity() int { return b.capacity }

// Available returns the current number of spendable bytes.
func (b *Bucket) Available() int { return b.available }

// SetRefillRate updates the refill rate (bytes/sec), e.g. in response to a
// bandwidth reconfiguration.
func (b *Bucket) SetRefillRate(bytesPerSec int) { b.refillRate = bytesPerSec }

// SetCapacity updates the bucket capacity, clamping available down if it now
// exceeds the new capacity.
func (b *Bucket) SetCapacity(capacity int) {
	b.capacity = capacity
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

// Refill grows available by elapsed * refillRate, capped at capacity.
func (b *Bucket) Refill(elapsed time.Duration) {
	if elapsed <= 0 || b.refillRate <= 0 {
		return
	}
	gained := int(elapsed.Seconds() * float64(b.refillRate))
	b.available += gained
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

// TryConsume attempts to spend n bytes. It succeeds and subtracts n from
// available iff available >= n.
func (b *Bucket) TryConsume(n int) bool {
	if n < 0 {
		return true
	}
	if b.available < n {
		return false
	}
	b.available -= n
	return true
}
