// Package ledger implements the packet-sent ledger: a bounded FIFO mapping
// each outgoing PacketSeq to the (msgSeq, fragIndex) pairs it carried, so
// that an incoming ack can be translated back into per-fragment
// acknowledgements.
package ledger

import (
	"time"

	"aeronet/pkg/seq"
)

// FragRef names one fragment by its message and position within that message.
type FragRef struct {
	Lane      int
	MsgSeq    seq.MessageSeq
	FragIndex int
}

// Record is one entry of the ledger: everything a single outgoing packet
// carried, and when it was sent (for RTT sampling).
type Record struct {
	PacketSeq seq.PacketSeq
	Fragments []FragRef
	SentAt    time.Time
}

// Ledger is a capacity-bounded FIFO keyed by PacketSeq. When capacity is
// exceeded the oldest record is evicted; this is benign for reliable lanes
// (a missed ack simply falls back to the retransmit timer) and only risks
// losing an ack opportunity for unreliable lanes, which is acceptable
// since those never retransmit anyway.
type Ledger struct {
	capacity int
	order    []seq.PacketSeq // FIFO order, oldest first
	records  map[seq.PacketSeq]*Record
}

// New creates a Ledger bounded to the given capacity (number of packets).
func New(capacity int) *Ledger {
	if capacity < 1 {
		capacity = 1
	}
	return &Ledger{
		capacity: capacity,
		records:  make(map[seq.PacketSeq]*Record, capacity),
	}
}

// Record stores a new packet's fragment list, evicting the oldest entry if
// the ledger is at capacity. It returns the evicted PacketSeq and true if an
// eviction occurred.
func (l *Ledger) Record(packetSeq seq.PacketSeq, fragments []FragRef, sentAt time.Time) (evicted seq.PacketSeq, didEvict bool) {
	l.records[packetSeq] = &Record{PacketSeq: packetSeq, Fragments: fragments, SentAt: sentAt}
	l.order = append(l.order, packetSeq)
	if len(l.order) > l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		if _, ok := l.records[oldest]; ok {
			delete(l.records, oldest)
			return oldest, true
		}
	}
	return 0, false
}

// Take removes and returns the record for packetSeq, if present.
func (l *Ledger) Take(packetSeq seq.PacketSeq) (*Record, bool) {
	r, ok := l.records[packetSeq]
	if !ok {
		return nil, false
	}
	delete(l.records, packetSeq)
	for i, ps := range l.order {
		if ps == packetSeq {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return r, true
}

// Peek returns the record for packetSeq without removing it.
func (l *Ledger) Peek(packetSeq seq.PacketSeq) (*Record, bool) {
	r, ok := l.records[packetSeq]
	return r, ok
}

// EvictOlderThan removes and returns every record whose SentAt is older
// than the horizon (now - horizon), for periodic cleanup of records that
// will never be acked.
func (l *Ledger) EvictOlderThan(now time.Time, horizon time.Duration) []*Record {
	cutoff := now.Add(-horizon)
	var evicted []*Record
	kept := l.order[:0]
	for _, ps := range l.order {
		r, ok := l.records[ps]
		if !ok {
			continue
		}
		if r.SentAt.Before(cutoff) {
			delete(l.records, ps)
			evicted = append(evicted, r)
			continue
		}
		kept = append(kept, ps)
	}
	l.order = kept
	return evicted
}

// Len reports the number of records currently held.
func (l *Ledger) Len() int { return len(l.records) }
