// Package quicdgram adapts a QUIC connection's unreliable datagram
// extension (RFC 9221, as exposed by quic-go) to the transport.Substrate
// contract, and exposes the connection's bidirectional stream for the
// reliable side-channel pkg/handshake needs.
package quicdgram

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"aeronet/pkg/log"
	"aeronet/transport"
)

const incomingCapacity = 256

// Conn is a transport.Substrate backed by one quic.Connection's datagram
// extension.
type Conn struct {
	ID uuid.UUID

	conn quic.Connection

	incoming chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeSignal chan transport.CloseSignal
	lastRecv    atomic.Value // time.Time
}

// New wraps an established quic.Connection (EnableDatagrams must have been
// set in the quic.Config used to establish it) and starts its receive loop.
func New(conn quic.Connection) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ID:          uuid.New(),
		conn:        conn,
		incoming:    make(chan []byte, incomingCapacity),
		ctx:         ctx,
		cancel:      cancel,
		closeSignal: make(chan transport.CloseSignal, 1),
	}
	c.lastRecv.Store(time.Now())
	go c.readLoop()
	return c
}

// Listen binds a UDP address for incoming QUIC connections with datagrams
// enabled.
func Listen(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	return quic.ListenAddr(addr, tlsConf, &quic.Config{EnableDatagrams: true})
}

// Dial opens the initiator side of a QUIC connection with datagrams
// enabled.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (quic.Connection, error) {
	return quic.DialAddr(ctx, addr, tlsConf, &quic.Config{EnableDatagrams: true})
}

// OpenHandshakeStream opens the reliable bi-directional stream pkg/handshake
// uses as the initiator; the returned quic.Stream already satisfies
// transport.ReliableStream.
func OpenHandshakeStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	return conn.OpenStreamSync(ctx)
}

// AcceptHandshakeStream accepts the handshake stream as the acceptor.
func AcceptHandshakeStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	return conn.AcceptStream(ctx)
}

func (c *Conn) readLoop() {
	for {
		payload, err := c.conn.ReceiveDatagram(c.ctx)
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			log.Warn("quicdgram: receive error: %v", err)
			select {
			case c.closeSignal <- transport.CloseSignal{Reason: transport.CloseError, Detail: err.Error()}:
			default:
			}
			return
		}
		cp := append([]byte(nil), payload...)
		c.lastRecv.Store(time.Now())
		select {
		case c.incoming <- cp:
		default:
			log.Warn("quicdgram: incoming queue full, dropping datagram")
		}
	}
}

func (c *Conn) SendDatagram(payload []byte) error {
	return c.conn.SendDatagram(payload)
}

func (c *Conn) RecvDatagram() ([]byte, bool) {
	select {
	case d := <-c.incoming:
		return d, true
	default:
		return nil, false
	}
}

func (c *Conn) MTU() int {
	// quic-go doesn't expose the negotiated max datagram frame size
	// directly pre-1.0; 1200 matches the minimum safe QUIC UDP payload
	// (RFC 9000 §14.1), the same default transport/udp uses.
	return 1200
}

func (c *Conn) RTT() time.Duration {
	// quic-go does not expose its internal RTT estimate through the public
	// quic.Connection API; aeronet's own pkg/rtt estimator (fed from
	// acked PacketRecord timestamps) is authoritative regardless.
	return 0
}

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.CloseWithError(0, "aeronet: closed by caller")
		select {
		case c.closeSignal <- transport.CloseSignal{Reason: transport.CloseLocal, Detail: "closed by caller"}:
		default:
		}
	})
	return nil
}

// CloseSignal exposes the once-only channel carrying the close cause from
// the IO task to the core.
func (c *Conn) CloseSignal() <-chan transport.CloseSignal { return c.closeSignal }

// IdleFor reports how long it has been since the last datagram was received.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	last, _ := c.lastRecv.Load().(time.Time)
	return now.Sub(last)
}

var _ transport.Substrate = (*Conn)(nil)
