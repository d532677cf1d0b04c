// Package reassembly implements the fragment reassembly buffer: entries
// keyed by (lane, message sequence) hold partial fragment sets until every
// fragment of a message has arrived, at which point the assembled payload
// is yielded and the entry is removed.
package reassembly

import (
	"fmt"
	"time"

	"aeronet/pkg/seq"
	"aeronet/pkg/wire"
)

// Key identifies one in-flight message's reassembly entry. Keying by
// (lane, msgSeq) rather than msgSeq alone keeps lanes' sequence spaces
// independent.
type Key struct {
	Lane   int
	MsgSeq seq.MessageSeq
}

type entry struct {
	maxPayload       int
	numFragsExpected int // -1 until the last fragment (marker.Last()) arrives
	received         [wire.MaxFragmentsPerMessage]bool
	receivedCount    int
	buf              []byte
	lastActivity     time.Time
}

// Buffer holds all in-flight reassembly entries for one session.
type Buffer struct {
	maxBytes  int
	usedBytes int
	entries   map[Key]*entry
}

// New creates an empty reassembly Buffer bounded by maxBytes of total
// buffered (but not yet assembled) fragment payload.
func New(maxBytes int) *Buffer {
	return &Buffer{
		maxBytes: maxBytes,
		entries:  make(map[Key]*entry),
	}
}

// ErrOutOfMemory is returned when accepting a fragment would push total
// reassembly memory past the configured ceiling. This is a fatal,
// session-terminating condition.
var ErrOutOfMemory = fmt.Errorf("reassembly: out of memory")

// Feed accepts one fragment belonging to lane/f.MsgSeq. maxPayload is the
// per-fragment payload budget (P) used to compute byte offsets within the
// message buffer; it is snapshotted into the entry on first fragment so a
// mid-message MTU change cannot shift the offsets of fragments already
// placed. It returns (assembled, true, nil) once all fragments of the
// message have arrived, in which case the entry is removed; otherwise it
// returns (nil, false, nil). A duplicate fragment is silently dropped.
func (b *Buffer) Feed(lane int, now time.Time, f wire.Fragment, maxPayload int) ([]byte, bool, error) {
	if err := f.Marker.Validate(); err != nil {
		return nil, false, err
	}
	key := Key{Lane: lane, MsgSeq: f.MsgSeq}
	e, ok := b.entries[key]
	if !ok {
		e = &entry{numFragsExpected: -1, maxPayload: maxPayload, lastActivity: now}
		b.entries[key] = e
	}
	idx := f.Marker.Index()
	if e.received[idx] {
		return nil, false, nil // duplicate
	}

	need := (idx + 1) * e.maxPayload
	if need > len(e.buf) {
		grown := make([]byte, need)
		copy(grown, e.buf)
		b.usedBytes += need - len(e.buf)
		e.buf = grown
		if b.usedBytes > b.maxBytes {
			delete(b.entries, key)
			b.usedBytes -= cap(e.buf)
			return nil, false, ErrOutOfMemory
		}
	}
	copy(e.buf[idx*e.maxPayload:], f.Payload)
	e.received[idx] = true
	e.receivedCount++
	e.lastActivity = now

	if f.Marker.Last() {
		e.numFragsExpected = idx + 1
		total := idx*e.maxPayload + len(f.Payload)
		if total < len(e.buf) {
			e.buf = e.buf[:total]
		}
	}

	if e.numFragsExpected >= 0 && e.receivedCount == e.numFragsExpected {
		assembled := e.buf
		b.usedBytes -= cap(e.buf)
		if b.usedBytes < 0 {
			b.usedBytes = 0
		}
		delete(b.entries, key)
		return assembled, true, nil
	}
	return nil, false, nil
}

// EvictStale removes entries (for unreliable lanes; reliable lanes live
// until the session dies and should not be passed to this call) whose
// lastActivity is older than dropWindow, reclaiming their memory.
func (b *Buffer) EvictStale(now time.Time, keys func(Key) bool, dropWindow time.Duration) int {
	evicted := 0
	for k, e := range b.entries {
		if keys != nil && !keys(k) {
			continue
		}
		if now.Sub(e.lastActivity) > dropWindow {
			b.usedBytes -= cap(e.buf)
			if b.usedBytes < 0 {
				b.usedBytes = 0
			}
			delete(b.entries, k)
			evicted++
		}
	}
	return evicted
}

// DropLane removes every in-flight entry for a given lane, e.g. when a
// session terminates and its reliable-lane reassembly state is discarded.
func (b *Buffer) DropLane(lane int) {
	for k, e := range b.entries {
		if k.Lane == lane {
			b.usedBytes -= cap(e.buf)
			if b.usedBytes < 0 {
				b.usedBytes = 0
			}
			delete(b.entries, k)
		}
	}
}

// UsedBytes reports current reassembly memory usage.
func (b *Buffer) UsedBytes() int { return b.usedBytes }

// Len reports the number of in-flight reassembly entries.
func (b *Buffer) Len() int { return len(b.entries) }
