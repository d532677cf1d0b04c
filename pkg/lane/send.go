// Package lane implements the per-lane send and receive state machines:
// outgoing fragment bookkeeping with retransmission for reliable lanes,
// and the four ordering/dedup policies on the receive side.
package lane

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"aeronet/pkg/bucket"
	"aeronet/pkg/config"
	"aeronet/pkg/frag"
	"aeronet/pkg/ledger"
	"aeronet/pkg/seq"
	"aeronet/pkg/wire"
)

// FragmentSlot holds one fragment's payload and send history. retry is nil
// for unreliable lanes (never resent) and, on reliable lanes, until the
// first PackInto call after the fragment's first send checks it for
// retransmission.
type FragmentSlot struct {
	Payload    []byte
	Marker     wire.Marker
	LastSentAt time.Time
	Attempts   int
	Done       bool // sent (unreliable) or acked (reliable)

	retry          backoff.BackOff
	nextRetryAfter time.Duration
}

// SentMessage is one buffered outgoing message and its per-fragment state.
type SentMessage struct {
	MsgSeq     seq.MessageSeq
	Frags      []FragmentSlot
	NumUnacked int

	payloadLen int
}

// isReliable reports whether kind retains fragments until acked, as opposed
// to dropping them after a single send pass.
func isReliable(kind config.LaneKind) bool {
	return kind == config.ReliableUnordered || kind == config.ReliableOrdered
}

// SendState is the outgoing half of one lane.
type SendState struct {
	kind              config.LaneKind
	index             int
	maxPayload        int
	retransmitBase    time.Duration
	retransmitCeiling time.Duration
	bucket            *bucket.Bucket // nil: no per-lane limit, only the session bucket applies

	queue       []*SentMessage
	queuedBytes int
}

// NewSendState creates the send-side state for one lane. perLaneBytesPerSec
// of 0 disables the per-lane bucket (the lane is still bound by the
// session-wide bucket applied by the caller).
func NewSendState(kind config.LaneKind, index, maxPayload int, retransmitBase, retransmitCeiling time.Duration, perLaneBytesPerSec int) *SendState {
	var b *bucket.Bucket
	if perLaneBytesPerSec > 0 {
		b = bucket.New(perLaneBytesPerSec, perLaneBytesPerSec)
	}
	return &SendState{
		kind:              kind,
		index:             index,
		maxPayload:        maxPayload,
		retransmitBase:    retransmitBase,
		retransmitCeiling: retransmitCeiling,
		bucket:            b,
	}
}

// Buffer fragments payload and appends it to the lane's send queue.
func (s *SendState) Buffer(msgSeq seq.MessageSeq, payload []byte) (*SentMessage, error) {
	frags, err := frag.Split(msgSeq, payload, s.maxPayload)
	if err != nil {
		return nil, fmt.Errorf("lane: buffer message %d: %w", msgSeq, err)
	}
	sm := &SentMessage{MsgSeq: msgSeq, Frags: make([]FragmentSlot, len(frags)), NumUnacked: len(frags), payloadLen: len(payload)}
	for i, f := range frags {
		sm.Frags[i] = FragmentSlot{Payload: f.Payload, Marker: f.Marker}
	}
	s.queue = append(s.queue, sm)
	s.queuedBytes += len(payload)
	return sm, nil
}

// newRetryPolicy builds the per-fragment exponential backoff sequence:
// InitialInterval seeds the first retransmit delay at retransmitBase+pto,
// Multiplier doubles it on each successive call to NextBackOff, and
// MaxInterval enforces the ceiling. MaxElapsedTime is left at zero so the
// policy never reports backoff.Stop — reliable fragments retry until acked
// or the session dies.
func (s *SendState) newRetryPolicy(pto time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retransmitBase + pto
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if s.retransmitCeiling > 0 {
		b.MaxInterval = s.retransmitCeiling
	}
	b.Reset()
	return b
}

// dueInterval returns the delay that must elapse since slot's last send
// before it is next due for retransmission, lazily priming the slot's
// backoff policy on first use; PackInto advances the policy after each
// actual resend.
func (s *SendState) dueInterval(slot *FragmentSlot, pto time.Duration) time.Duration {
	if slot.retry == nil {
		slot.retry = s.newRetryPolicy(pto)
		slot.nextRetryAfter = slot.retry.NextBackOff()
	}
	return slot.nextRetryAfter
}

// PackInto greedily writes due fragments from this lane into dst, skipping
// any fragment that would exceed the remaining maxBytes or that the lane's
// own bucket (if any) cannot cover. It refills the lane bucket with elapsed time since the
// previous call before spending from it. It returns the extended buffer,
// the refs written (for the caller's packet-sent ledger), and the number of
// bytes consumed.
func (s *SendState) PackInto(dst []byte, now time.Time, maxBytes int, pto time.Duration, bucketElapsed time.Duration) ([]byte, []ledger.FragRef, int) {
	if s.bucket != nil {
		s.bucket.Refill(bucketElapsed)
	}
	reliable := isReliable(s.kind)
	var refs []ledger.FragRef
	spent := 0

	remaining := s.queue[:0]
	for _, msg := range s.queue {
		for i := range msg.Frags {
			slot := &msg.Frags[i]
			if slot.Done {
				continue
			}
			due := slot.LastSentAt.IsZero() || (reliable && now.Sub(slot.LastSentAt) >= s.dueInterval(slot, pto))
			if !due {
				continue
			}
			encLen := wire.EncodedLen(s.index, len(slot.Payload))
			if encLen > maxBytes {
				continue
			}
			if s.bucket != nil && !s.bucket.TryConsume(encLen) {
				continue
			}
			dst = wire.AppendFragment(dst, wire.Fragment{
				MsgSeq:    msg.MsgSeq,
				LaneIndex: s.index,
				Marker:    slot.Marker,
				Payload:   slot.Payload,
			})
			maxBytes -= encLen
			spent += encLen
			slot.LastSentAt = now
			slot.Attempts++
			if reliable && slot.retry != nil {
				slot.nextRetryAfter = slot.retry.NextBackOff()
			}
			refs = append(refs, ledger.FragRef{Lane: s.index, MsgSeq: msg.MsgSeq, FragIndex: i})
			if !reliable {
				slot.Done = true
				msg.NumUnacked--
			}
		}
		if msg.NumUnacked > 0 {
			remaining = append(remaining, msg)
		} else {
			s.queuedBytes -= msg.payloadLen
		}
	}
	s.queue = remaining
	return dst, refs, spent
}

// OnAck marks one fragment acked, removing its owning message from the
// queue once every fragment has been acked. It reports whether the message
// was fully acked by this call.
func (s *SendState) OnAck(msgSeq seq.MessageSeq, fragIndex int) bool {
	for qi, msg := range s.queue {
		if msg.MsgSeq != msgSeq {
			continue
		}
		if fragIndex < 0 || fragIndex >= len(msg.Frags) {
			return false
		}
		slot := &msg.Frags[fragIndex]
		if slot.Done {
			return false
		}
		slot.Done = true
		msg.NumUnacked--
		if msg.NumUnacked == 0 {
			s.queue = append(s.queue[:qi], s.queue[qi+1:]...)
			s.queuedBytes -= msg.payloadLen
			return true
		}
		return false
	}
	return false
}

// QueueLen reports the number of messages still buffered for sending or
// awaiting ack.
func (s *SendState) QueueLen() int { return len(s.queue) }

// QueueBytes reports the summed payload bytes of messages still buffered,
// for the session's send-queue ceiling enforcement.
func (s *SendState) QueueBytes() int { return s.queuedBytes }

// IsUnacked reports whether the given fragment is still buffered and has
// not yet been acked, for the session's early-loss Nack inference: a
// PacketRecord evicted from the ledger before being acked only warrants a
// Nack if the fragment it named is still sitting here unacked rather than
// already retired.
func (s *SendState) IsUnacked(msgSeq seq.MessageSeq, fragIndex int) bool {
	for _, msg := range s.queue {
		if msg.MsgSeq != msgSeq {
			continue
		}
		if fragIndex < 0 || fragIndex >= len(msg.Frags) {
			return false
		}
		return !msg.Frags[fragIndex].Done
	}
	return false
}

// ForceRetransmit marks a fragment due for immediate resend on the next
// PackInto call, bypassing its normal backoff interval. Used when the
// session infers an early loss from a ledger eviction rather than waiting
// for the PTO-driven retransmit timer.
func (s *SendState) ForceRetransmit(msgSeq seq.MessageSeq, fragIndex int) {
	for _, msg := range s.queue {
		if msg.MsgSeq != msgSeq {
			continue
		}
		if fragIndex < 0 || fragIndex >= len(msg.Frags) {
			return
		}
		slot := &msg.Frags[fragIndex]
		if !slot.Done {
			slot.LastSentAt = time.Time{}
		}
		return
	}
}
