package lane

import (
	"aeronet/pkg/config"
	"aeronet/pkg/seq"
)

// RecvState is the receive-side ordering/dedup policy for one lane.
type RecvState struct {
	kind config.LaneKind

	// UnreliableSequenced
	hasLastDelivered bool
	lastDelivered    seq.MessageSeq

	// ReliableUnordered / ReliableOrdered
	pendingSeq    seq.MessageSeq
	receivedAfter map[seq.MessageSeq]bool   // ReliableUnordered
	buffer        map[seq.MessageSeq][]byte // ReliableOrdered
}

// NewRecvState creates the receive-side state for a lane of the given kind.
func NewRecvState(kind config.LaneKind) *RecvState {
	r := &RecvState{kind: kind}
	switch kind {
	case config.ReliableUnordered:
		r.receivedAfter = make(map[seq.MessageSeq]bool)
	case config.ReliableOrdered:
		r.buffer = make(map[seq.MessageSeq][]byte)
	}
	return r
}

// Deliver feeds one assembled (msg_seq, payload) pair through the lane's
// policy, returning the payloads (in delivery order) that should be handed
// to the application as Recv events. Most policies yield at most one
// payload per call; ReliableOrdered may yield several at once when an
// earlier gap closes.
func (r *RecvState) Deliver(msgSeq seq.MessageSeq, payload []byte) [][]byte {
	switch r.kind {
	case config.UnreliableUnordered:
		return [][]byte{payload}

	case config.UnreliableSequenced:
		if !r.hasLastDelivered || seq.LessMessage(r.lastDelivered, msgSeq) {
			r.lastDelivered = msgSeq
			r.hasLastDelivered = true
			return [][]byte{payload}
		}
		return nil

	case config.ReliableUnordered:
		if seq.LessMessage(msgSeq, r.pendingSeq) {
			return nil // duplicate, already retired
		}
		if r.receivedAfter[msgSeq] {
			return nil // duplicate, not yet retired
		}
		r.receivedAfter[msgSeq] = true
		out := [][]byte{payload}
		for r.receivedAfter[r.pendingSeq] {
			delete(r.receivedAfter, r.pendingSeq)
			r.pendingSeq = r.pendingSeq.Add(1)
		}
		return out

	case config.ReliableOrdered:
		if seq.LessMessage(msgSeq, r.pendingSeq) {
			return nil // duplicate
		}
		if _, exists := r.buffer[msgSeq]; exists {
			return nil // duplicate, still buffered
		}
		r.buffer[msgSeq] = payload
		var out [][]byte
		for {
			p, ok := r.buffer[r.pendingSeq]
			if !ok {
				break
			}
			out = append(out, p)
			delete(r.buffer, r.pendingSeq)
			r.pendingSeq = r.pendingSeq.Add(1)
		}
		return out

	default:
		return nil
	}
}
