// Package session implements the per-connection orchestrator: it drives
// sequence arithmetic, the byte bucket, ack tracking, fragmentation/
// reassembly, the lane state machines, the RTT estimator, and the
// packet-sent ledger from two entry points, send/flush on the outgoing
// side and poll on the incoming side. The whole pipeline is a
// single-threaded, cooperative state machine; the caller holds exclusive
// access during each call.
package session

import (
	"fmt"
	"strconv"
	"time"

	"aeronet/pkg/ack"
	"aeronet/pkg/aeroerr"
	"aeronet/pkg/bucket"
	"aeronet/pkg/config"
	"aeronet/pkg/lane"
	"aeronet/pkg/ledger"
	"aeronet/pkg/log"
	"aeronet/pkg/metrics"
	"aeronet/pkg/reassembly"
	"aeronet/pkg/rtt"
	"aeronet/pkg/seq"
	"aeronet/pkg/wire"
)

// State is the session lifecycle: Handshaking → Established → Closed,
// with no re-entry.
type State int

const (
	Handshaking State = iota
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Established:
		return "established"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageKey identifies one submitted message for later Ack/Nack
// correlation.
type MessageKey struct {
	Lane   int
	MsgSeq seq.MessageSeq
}

// EventKind discriminates the Event union returned from Poll.
type EventKind int

const (
	EventConnected EventKind = iota
	EventRecv
	EventAck
	EventNack
	EventDisconnected
)

// Event is the single, owned type yielded by Poll.
type Event struct {
	Kind         EventKind
	Payload      []byte
	LaneIndex    int
	Key          MessageKey
	Disconnected *aeroerr.Disconnected
}

// closeFrameSentinel marks a graceful-close frame: a packet of exactly
// HeaderLen+1 bytes whose single trailing byte is this sentinel. The exact
// length requirement is what disambiguates it — the shortest possible
// fragment needs five bytes after the header, so no fragment-bearing packet
// can ever be this size, regardless of what its first msg_seq byte is.
const closeFrameSentinel = 0xFF

// Session is the per-connection state machine. It is not safe for
// concurrent use; callers serialize Send/Flush/Poll/Disconnect themselves,
// typically from one driver goroutine per session.
type Session struct {
	cfg   *config.Config
	state State

	packetSeqOut seq.PacketSeq
	ackTracker   *ack.Tracker

	// ackDirty is set when a received packet carried fragments (i.e. the
	// peer will want its packet_seq acknowledged) and cleared whenever any
	// packet — which always carries the current ack state — is flushed.
	// Header-only packets never set it, so two idle peers do not ping-pong
	// acks of acks forever.
	ackDirty bool

	sendLanes  []*lane.SendState
	recvLanes  []*lane.RecvState
	nextMsgSeq []seq.MessageSeq

	bucket     *bucket.Bucket
	reassembly *reassembly.Buffer
	ledger     *ledger.Ledger
	rtt        *rtt.Estimator

	lastBucketRefill time.Time
	lastFlush        time.Time
	lastActivity     time.Time

	stats []LaneStats

	closeReason *aeroerr.Disconnected

	// pendingEvents holds session-lifecycle events (currently just
	// Connected) raised outside of a Poll call, flushed into the next
	// Poll's return value so Poll stays the single event source.
	pendingEvents []Event

	id string
}

// LaneStats is the per-lane query surface: message and byte counts in each
// direction plus ack/nack counts.
type LaneStats struct {
	MessagesSent uint64
	MessagesRecv uint64
	BytesSent    uint64
	BytesRecv    uint64
	AcksReceived uint64
	NacksEmitted uint64
}

// New creates a session in the Handshaking state. Establish must be called
// once the handshake (pkg/handshake) succeeds before Send/Flush/Poll accept
// application traffic.
func New(cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	now := time.Now()
	s := &Session{
		cfg:   cfg,
		state: Handshaking,
		// The first emitted packet carries seq 1, so an Acknowledge from a
		// peer that has received nothing yet (last_recv=0, bits=0) never
		// matches a ledger entry.
		packetSeqOut:     1,
		ackTracker:       ack.New(),
		bucket:           bucket.New(cfg.BandwidthBytesPerSec, cfg.BandwidthBytesPerSec),
		reassembly:       reassembly.New(cfg.MaxReassemblyBytes),
		ledger:           ledger.New(cfg.PacketRecordCapacity),
		rtt:              rtt.New(cfg.InitialRTT),
		lastBucketRefill: now,
		lastFlush:        now,
		lastActivity:     now,
		id:               cfg.SessionID,
	}
	maxPayload := maxFragmentPayload(cfg.MTU)
	for i, kind := range cfg.Lanes {
		perLane := 0
		if i < len(cfg.PerLaneBandwidthBytesPerSec) {
			perLane = cfg.PerLaneBandwidthBytesPerSec[i]
		}
		s.sendLanes = append(s.sendLanes, lane.NewSendState(kind, i, maxPayload, cfg.RetransmitBase, cfg.RetransmitCeiling, perLane))
		s.recvLanes = append(s.recvLanes, lane.NewRecvState(kind))
		s.nextMsgSeq = append(s.nextMsgSeq, 0)
	}
	s.stats = make([]LaneStats, len(cfg.Lanes))
	return s, nil
}

// maxFragmentPayload derives the per-fragment payload budget from the
// configured MTU: header + at least one fragment's fixed overhead must fit.
// A conservative constant overhead keeps this independent of lane index
// magnitude (varint-encoded, so the true overhead may be 1 byte smaller for
// lane indices < 128, which only widens the margin).
func maxFragmentPayload(mtu int) int {
	const fragmentFixedOverhead = 2 /*msg_seq*/ + 2 /*lane varint, generous*/ + 1 /*marker*/ + 2 /*payload_len varint*/
	budget := mtu - wire.HeaderLen - fragmentFixedOverhead
	if budget < 1 {
		budget = 1
	}
	return budget
}

// Establish transitions a Handshaking session to Established, called by the
// driver once pkg/handshake reports success. It enqueues the Connected
// event; the caller sees it on its first subsequent Poll call
// (transport/driver.go drives one immediately, even with no datagram yet
// received, so it is never delayed behind incoming traffic).
func (s *Session) Establish() {
	if s.state == Handshaking {
		s.state = Established
		s.lastActivity = time.Now()
		metrics.SessionsActive.Inc()
		s.pendingEvents = append(s.pendingEvents, Event{Kind: EventConnected})
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State { return s.state }

// LaneStats returns a copy of the query surface for one lane.
func (s *Session) LaneStats(laneIndex int) (LaneStats, error) {
	if laneIndex < 0 || laneIndex >= len(s.stats) {
		return LaneStats{}, aeroerr.New(aeroerr.KindConfig, fmt.Sprintf("invalid lane index %d", laneIndex))
	}
	return s.stats[laneIndex], nil
}

// RTT returns the current smoothed round-trip-time estimate.
func (s *Session) RTT() time.Duration { return s.rtt.Smoothed() }

// Send buffers a message for transmission on the given lane, returning a
// MessageKey for later Ack/Nack correlation. Errors are synchronous and
// non-fatal: invalid lane index, message too large to fragment, or send
// queue full.
func (s *Session) Send(payload []byte, laneIndex int) (MessageKey, error) {
	if s.state != Established {
		return MessageKey{}, aeroerr.ErrSessionClosed
	}
	if laneIndex < 0 || laneIndex >= len(s.sendLanes) {
		return MessageKey{}, aeroerr.New(aeroerr.KindConfig, fmt.Sprintf("invalid lane index %d", laneIndex))
	}
	if s.cfg.MaxSendQueueBytes > 0 {
		queued := 0
		for _, sl := range s.sendLanes {
			queued += sl.QueueBytes()
		}
		if queued+len(payload) > s.cfg.MaxSendQueueBytes {
			return MessageKey{}, aeroerr.New(aeroerr.KindBackpressure, "send queue full")
		}
	}
	msgSeq := s.nextMsgSeq[laneIndex]
	if _, err := s.sendLanes[laneIndex].Buffer(msgSeq, payload); err != nil {
		return MessageKey{}, aeroerr.Wrap(aeroerr.KindConfig, "message too large to fragment", err)
	}
	s.nextMsgSeq[laneIndex] = msgSeq.Add(1)
	s.stats[laneIndex].MessagesSent++
	s.stats[laneIndex].BytesSent += uint64(len(payload))
	laneLabel := strconv.Itoa(laneIndex)
	metrics.MessagesSent.WithLabelValues(s.id, laneLabel).Inc()
	metrics.BytesSent.WithLabelValues(s.id, laneLabel).Add(float64(len(payload)))
	return MessageKey{Lane: laneIndex, MsgSeq: msgSeq}, nil
}

// Flush drives outgoing packet generation, returning zero or more encoded
// packets (each a standalone datagram payload, header included) ready for
// the substrate's send_datagram. Each packet is filled up to the MTU; it
// stops once the session byte bucket cannot cover another header or no lane
// has a fragment that fits.
func (s *Session) Flush(now time.Time) [][]byte {
	if s.state != Established {
		return nil
	}
	elapsed := now.Sub(s.lastBucketRefill)
	s.lastBucketRefill = now
	s.bucket.Refill(elapsed)

	var packets [][]byte
	laneBucketElapsed := elapsed // credited on the first packet only; zeroed below
	for {
		if s.bucket.Available() < wire.HeaderLen {
			break
		}

		header := wire.PacketHeader{PacketSeq: s.packetSeqOut, Acks: s.ackTracker.Acknowledge()}
		buf := make([]byte, wire.HeaderLen)
		header.Encode(buf)

		mtuLeft := s.cfg.MTU - wire.HeaderLen
		if bucketLeft := s.bucket.Available() - wire.HeaderLen; bucketLeft < mtuLeft {
			mtuLeft = bucketLeft
		}
		var refs []ledger.FragRef
		wroteAny := false
		for _, sl := range s.sendLanes {
			if mtuLeft <= 0 {
				break
			}
			var laneRefs []ledger.FragRef
			var spent int
			buf, laneRefs, spent = sl.PackInto(buf, now, mtuLeft, s.rtt.PTO(), laneBucketElapsed)
			if len(laneRefs) > 0 {
				wroteAny = true
				mtuLeft -= spent
				refs = append(refs, laneRefs...)
			}
		}
		laneBucketElapsed = 0
		if !wroteAny {
			// Nothing due on any lane. If a received packet's acks have not
			// ridden out on a data packet yet, emit a header-only packet so
			// the peer's retransmission scheduler still learns about them.
			if s.ackDirty {
				s.bucket.TryConsume(len(buf))
				s.packetSeqOut = s.packetSeqOut.Add(1)
				s.ackDirty = false
				packets = append(packets, buf)
			}
			break
		}
		// Consumption equals the exact bytes emitted; the Available() check
		// above guarantees this never fails.
		s.bucket.TryConsume(len(buf))
		s.ledger.Record(s.packetSeqOut, refs, now)
		s.packetSeqOut = s.packetSeqOut.Add(1)
		s.ackDirty = false
		packets = append(packets, buf)
	}
	s.lastFlush = now
	metrics.BucketAvailable.WithLabelValues(s.id).Set(float64(s.bucket.Available()))
	return packets
}

// evictStaleLedgerEntries drops PacketRecord entries older than
// max(4*RTT, 1s), called from Poll alongside the other clock-driven
// bookkeeping. Each evicted record whose fragments are still unacked on a
// reliable lane is a genuine loss signal (never acked before going stale):
// the session emits Nack{key} for it and forces an immediate retransmit,
// strictly ahead of the PTO-driven timer which still fires independently.
func (s *Session) evictStaleLedgerEntries(now time.Time) []Event {
	horizon := 4 * s.rtt.Smoothed()
	if horizon < time.Second {
		horizon = time.Second
	}
	evicted := s.ledger.EvictOlderThan(now, horizon)
	if len(evicted) == 0 {
		return nil
	}
	var events []Event
	for _, rec := range evicted {
		for _, ref := range rec.Fragments {
			if ref.Lane < 0 || ref.Lane >= len(s.sendLanes) {
				continue
			}
			sl := s.sendLanes[ref.Lane]
			if !sl.IsUnacked(ref.MsgSeq, ref.FragIndex) {
				continue
			}
			sl.ForceRetransmit(ref.MsgSeq, ref.FragIndex)
			s.stats[ref.Lane].NacksEmitted++
			metrics.NacksEmitted.WithLabelValues(s.id, strconv.Itoa(ref.Lane)).Inc()
			events = append(events, Event{Kind: EventNack, LaneIndex: ref.Lane, Key: MessageKey{Lane: ref.Lane, MsgSeq: ref.MsgSeq}})
		}
	}
	return events
}

// Poll advances the session clock and, for a non-empty packet, parses and
// applies one received datagram, returning the events produced. Called with
// an empty packet — transport/driver.go does this once per tick when no
// datagram arrived — it only performs clock-driven bookkeeping (pending
// lifecycle events, ledger/reassembly eviction) without attempting to decode
// anything, so Connected is never starved by a quiet peer. Malformed input
// is logged and dropped at packet granularity (the session survives); a
// reassembly overflow is fatal and transitions the session to Closed.
func (s *Session) Poll(now time.Time, packet []byte) []Event {
	if s.state != Established {
		return nil
	}

	var events []Event
	if len(s.pendingEvents) > 0 {
		events = append(events, s.pendingEvents...)
		s.pendingEvents = nil
	}

	if len(packet) == 0 {
		events = append(events, s.evictStaleLedgerEntries(now)...)
		s.evictStaleReassembly(now)
		return events
	}
	s.lastActivity = now

	if len(packet) == wire.HeaderLen+1 && packet[wire.HeaderLen] == closeFrameSentinel {
		return append(events, s.closeLocked(aeroerr.ReasonPeer, "peer sent graceful-close frame")...)
	}

	header, err := wire.DecodeHeader(packet)
	if err != nil {
		log.Warn("session: dropping malformed packet: %v", err)
		return events
	}
	s.ackTracker.Observe(header.PacketSeq)
	if len(packet) > wire.HeaderLen {
		// Only fragment-bearing packets elicit an ack of their own;
		// header-only packets would otherwise keep two idle peers
		// acknowledging each other's acknowledgements forever.
		s.ackDirty = true
	}

	for _, acked := range header.Acks.Seqs() {
		rec, ok := s.ledger.Take(acked)
		if !ok {
			continue
		}
		sample := now.Sub(rec.SentAt)
		s.rtt.Sample(sample)
		metrics.RTTSmoothed.WithLabelValues(s.id).Set(s.rtt.Smoothed().Seconds())
		for _, ref := range rec.Fragments {
			if ref.Lane < 0 || ref.Lane >= len(s.sendLanes) {
				continue
			}
			if s.sendLanes[ref.Lane].OnAck(ref.MsgSeq, ref.FragIndex) {
				s.stats[ref.Lane].AcksReceived++
				metrics.AcksReceived.WithLabelValues(s.id, strconv.Itoa(ref.Lane)).Inc()
				events = append(events, Event{Kind: EventAck, LaneIndex: ref.Lane, Key: MessageKey{Lane: ref.Lane, MsgSeq: ref.MsgSeq}})
			}
		}
	}

	off := wire.HeaderLen
	for off < len(packet) {
		f, n, err := wire.DecodeFragment(packet[off:])
		if err != nil {
			log.Warn("session: dropping rest of packet after fragment decode error: %v", err)
			break
		}
		off += n
		if f.LaneIndex < 0 || f.LaneIndex >= len(s.recvLanes) {
			log.Warn("session: dropping packet: unknown lane index %d", f.LaneIndex)
			break
		}
		payloadCopy := append([]byte(nil), f.Payload...)
		assembled, complete, err := s.reassembly.Feed(f.LaneIndex, now, wire.Fragment{
			MsgSeq: f.MsgSeq, LaneIndex: f.LaneIndex, Marker: f.Marker, Payload: payloadCopy,
		}, maxFragmentPayload(s.cfg.MTU))
		if err == reassembly.ErrOutOfMemory {
			return append(events, s.closeLocked(aeroerr.ReasonError, "reassembly memory exhausted")...)
		}
		if err != nil {
			log.Warn("session: dropping fragment: %v", err)
			continue
		}
		if !complete {
			continue
		}
		s.stats[f.LaneIndex].MessagesRecv++
		s.stats[f.LaneIndex].BytesRecv += uint64(len(assembled))
		laneLabel := strconv.Itoa(f.LaneIndex)
		metrics.MessagesRecv.WithLabelValues(s.id, laneLabel).Inc()
		metrics.BytesRecv.WithLabelValues(s.id, laneLabel).Add(float64(len(assembled)))
		for _, deliverable := range s.recvLanes[f.LaneIndex].Deliver(f.MsgSeq, assembled) {
			events = append(events, Event{Kind: EventRecv, LaneIndex: f.LaneIndex, Payload: deliverable})
		}
	}
	events = append(events, s.evictStaleLedgerEntries(now)...)
	s.evictStaleReassembly(now)
	return events
}

// evictStaleReassembly drops unreliable-lane reassembly entries that have
// sat idle past the configured drop window: a lost final fragment
// otherwise occupies memory until MaxReassemblyBytes forces a
// whole-session close rather than quietly falling off. Reliable-lane
// entries are left alone here — they are only dropped wholesale when the
// session itself closes, in closeLocked.
func (s *Session) evictStaleReassembly(now time.Time) {
	if s.cfg.ReassemblyDropWindow <= 0 {
		return
	}
	s.reassembly.EvictStale(now, s.isUnreliableLane, s.cfg.ReassemblyDropWindow)
}

// isUnreliableLane reports whether k names a lane with no retransmission,
// the reassembly.EvictStale predicate selecting which stale entries are
// safe to drop before the session closes.
func (s *Session) isUnreliableLane(k reassembly.Key) bool {
	if k.Lane < 0 || k.Lane >= len(s.cfg.Lanes) {
		return false
	}
	switch s.cfg.Lanes[k.Lane] {
	case config.UnreliableUnordered, config.UnreliableSequenced:
		return true
	default:
		return false
	}
}

// Disconnect initiates a graceful local close, returning the close frame
// the caller's substrate adapter should send before tearing down the
// socket, along with the terminal events (exactly one EventDisconnected on
// the first call; none if the session is already Closed).
func (s *Session) Disconnect(reason string) ([]byte, []Event) {
	events := s.closeLocked(aeroerr.ReasonLocal, reason)
	frame := make([]byte, wire.HeaderLen+1)
	header := wire.PacketHeader{PacketSeq: s.packetSeqOut, Acks: s.ackTracker.Acknowledge()}
	header.Encode(frame)
	frame[wire.HeaderLen] = closeFrameSentinel
	return frame, events
}

func (s *Session) closeLocked(reason aeroerr.DisconnectReason, detail string) []Event {
	if s.state == Closed {
		return nil
	}
	if s.state == Established {
		metrics.SessionsActive.Dec()
	}
	s.state = Closed
	for i := range s.recvLanes {
		s.reassembly.DropLane(i)
	}
	d := &aeroerr.Disconnected{Reason: reason, Detail: detail}
	s.closeReason = d
	return []Event{{Kind: EventDisconnected, Disconnected: d}}
}

// CloseReason returns the terminal disconnect reason, if the session has
// closed.
func (s *Session) CloseReason() *aeroerr.Disconnected { return s.closeReason }

// IdleFor reports how long it has been since the last received packet,
// for the driver's idle-timeout enforcement.
func (s *Session) IdleFor(now time.Time) time.Duration { return now.Sub(s.lastActivity) }

// IdleTimeout returns the configured idle timeout a driver should enforce
// by calling Disconnect once IdleFor exceeds it.
func (s *Session) IdleTimeout() time.Duration { return s.cfg.IdleTimeout }

// SetMTU updates the session's packing budget in response to a substrate
// MTU signal. A decrease takes effect on the next Flush; in-flight
// SentMessages already fragmented at the old, larger budget are unaffected
// until acked or retransmitted.
func (s *Session) SetMTU(mtu int) {
	if mtu <= 0 || mtu == s.cfg.MTU {
		return
	}
	s.cfg.MTU = mtu
}
