// Package udp adapts a plain net.UDPConn to the transport.Substrate
// contract, and provides a Manager that demultiplexes one shared UDP
// socket into many per-remote-address Peer substrates.
package udp

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aeronet/pkg/log"
	"aeronet/transport"
)

const incomingCapacity = 256

// queue is an unbounded FIFO of outgoing datagrams, guarded by a mutex and
// signaled by a condition variable, so the core can always enqueue without
// blocking (a Go channel would impose a fixed capacity).
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(b []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, b)
	q.cond.Signal()
}

// pop blocks until an item is available or the queue is closed, in which
// case ok is false.
func (q *queue) pop() (item []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item, q.items = q.items[0], q.items[1:]
	return item, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Peer is one demultiplexed UDP correspondent: a transport.Substrate view
// over a shared socket, addressed by remote address. It is passed to
// ListenConfig.OnAccept (or returned by Dial) and used directly as a
// Session's substrate.
type Peer struct {
	ID uuid.UUID

	conn       *net.UDPConn
	remoteAddr *net.UDPAddr

	mtu atomic.Int64
	rtt atomic.Int64 // nanoseconds

	incoming chan transport.Datagram
	out      *queue

	closeOnce   sync.Once
	closeSignal chan transport.CloseSignal
	lastRecv    atomic.Value // time.Time
}

func newPeer(conn *net.UDPConn, addr *net.UDPAddr, mtu int) *Peer {
	p := &Peer{
		ID:          uuid.New(),
		conn:        conn,
		remoteAddr:  addr,
		incoming:    make(chan transport.Datagram, incomingCapacity),
		out:         newQueue(),
		closeSignal: make(chan transport.CloseSignal, 1),
	}
	p.mtu.Store(int64(mtu))
	p.lastRecv.Store(time.Now())
	go p.writeLoop()
	return p
}

// writeLoop drains the outgoing queue onto the shared socket; the
// background IO task that owns the actual writes.
func (p *Peer) writeLoop() {
	for {
		b, ok := p.out.pop()
		if !ok {
			return
		}
		var err error
		if p.conn.RemoteAddr() != nil {
			// A Dial'd socket is connected; WriteToUDP is refused on it.
			_, err = p.conn.Write(b)
		} else {
			_, err = p.conn.WriteToUDP(b, p.remoteAddr)
		}
		if err != nil {
			log.Warn("udp: write to %s failed: %v", p.remoteAddr, err)
		}
	}
}

func (p *Peer) SendDatagram(payload []byte) error {
	cp := append([]byte(nil), payload...)
	p.out.push(cp)
	return nil
}

func (p *Peer) RecvDatagram() ([]byte, bool) {
	select {
	case d := <-p.incoming:
		return d.Payload, true
	default:
		return nil, false
	}
}

func (p *Peer) MTU() int { return int(p.mtu.Load()) }

// SetMTU updates the advertised MTU, e.g. after a path MTU probe.
func (p *Peer) SetMTU(mtu int) { p.mtu.Store(int64(mtu)) }

func (p *Peer) RTT() time.Duration { return time.Duration(p.rtt.Load()) }

// SetRTT records a substrate-observed RTT sample (UDP has no native RTT
// signal; a manager may feed this from its own ping probing if desired).
func (p *Peer) SetRTT(d time.Duration) { p.rtt.Store(int64(d)) }

func (p *Peer) LocalAddr() net.Addr  { return p.conn.LocalAddr() }
func (p *Peer) RemoteAddr() net.Addr { return p.remoteAddr }

func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.out.close()
		select {
		case p.closeSignal <- transport.CloseSignal{Reason: transport.CloseLocal, Detail: "closed by caller"}:
		default:
		}
	})
	return nil
}

// CloseSignal exposes the once-only channel carrying the close cause from
// the IO task to the core.
func (p *Peer) CloseSignal() <-chan transport.CloseSignal { return p.closeSignal }

func (p *Peer) deliver(payload []byte) {
	p.lastRecv.Store(time.Now())
	select {
	case p.incoming <- transport.Datagram{Payload: payload, From: p.remoteAddr}:
	default:
		log.Warn("udp: incoming queue full for %s, dropping datagram", p.remoteAddr)
	}
}

func (p *Peer) idleFor(now time.Time) time.Duration {
	last, _ := p.lastRecv.Load().(time.Time)
	return now.Sub(last)
}

var _ transport.Substrate = (*Peer)(nil)

// Manager listens on one shared UDP socket and demultiplexes datagrams into
// per-remote-address Peer substrates.
type Manager struct {
	conn *net.UDPConn
	mtu  int

	mu    sync.RWMutex
	peers map[string]*Peer

	onAccept func(*Peer)

	stopOnce sync.Once
	stopped  chan struct{}
}

// ListenConfig configures Manager.Listen.
type ListenConfig struct {
	Addr     string // e.g. "0.0.0.0:9000"
	MTU      int    // advertised to new peers; 1200 if zero
	OnAccept func(*Peer)
}

// Listen binds a UDP socket and starts the read loop in a background
// goroutine.
func Listen(cfg ListenConfig) (*Manager, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = 1200
	}
	m := &Manager{
		conn:     conn,
		mtu:      mtu,
		peers:    make(map[string]*Peer),
		onAccept: cfg.OnAccept,
		stopped:  make(chan struct{}),
	}
	go m.readLoop()
	go m.cleanupLoop(30 * time.Second)
	return m, nil
}

// Dial opens a connected UDP socket to a single peer, for client use where
// no shared-socket demultiplexing is needed.
func Dial(remoteAddr string, mtu int) (*Peer, *Manager, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, nil, err
	}
	if mtu <= 0 {
		mtu = 1200
	}
	m := &Manager{conn: conn, mtu: mtu, peers: make(map[string]*Peer), stopped: make(chan struct{})}
	peer := newPeer(conn, udpAddr, mtu)
	m.peers[udpAddr.String()] = peer
	go m.readLoop()
	return peer, m, nil
}

func (m *Manager) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.stopped:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("udp: read error: %v", err)
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		peer := m.peerFor(addr)
		peer.deliver(data)
	}
}

func (m *Manager) peerFor(addr *net.UDPAddr) *Peer {
	key := addr.String()
	m.mu.RLock()
	p, ok := m.peers[key]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[key]; ok {
		return p
	}
	p = newPeer(m.conn, addr, m.mtu)
	m.peers[key] = p
	if m.onAccept != nil {
		m.onAccept(p)
	}
	return p
}

// cleanupLoop periodically drops peers idle beyond idleTimeout.
func (m *Manager) cleanupLoop(idleTimeout time.Duration) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopped:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, p := range m.peers {
				if p.idleFor(now) > idleTimeout {
					p.Close()
					delete(m.peers, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Peers returns a snapshot of currently known peers.
func (m *Manager) Peers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Close stops the read loop and closes the underlying socket.
func (m *Manager) Close() error {
	var err error
	m.stopOnce.Do(func() {
		close(m.stopped)
		err = m.conn.Close()
		m.mu.Lock()
		for _, p := range m.peers {
			p.Close()
		}
		m.mu.Unlock()
	})
	return err
}
