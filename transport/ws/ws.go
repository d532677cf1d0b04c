// Package ws adapts a gorilla/websocket connection to the transport.
// Substrate contract. Each aeronet packet is carried as one binary
// WebSocket message — no further framing is needed since gorilla/websocket
// already preserves message boundaries, unlike the raw datagram
// substrates.
package ws

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aeronet/pkg/log"
	"aeronet/transport"
)

const incomingCapacity = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is a transport.Substrate backed by one *websocket.Conn. It does NOT
// satisfy transport.ReliableStream (WebSocket is message-, not
// byte-stream-, oriented), and this package has no handshake exchange of
// its own: every binary message received is queued as a datagram.
type Conn struct {
	ID uuid.UUID

	conn *websocket.Conn

	writeMu  sync.Mutex
	incoming chan []byte

	closeOnce   sync.Once
	closeSignal chan transport.CloseSignal
	lastRecv    atomic.Value // time.Time

	mtu int
}

// New wraps an already-upgraded/dialed *websocket.Conn. mtu bounds the
// binary message size aeronet's session will pack into (WebSocket itself
// has no inherent MTU, but the session still needs a packing budget).
func New(conn *websocket.Conn, mtu int) *Conn {
	if mtu <= 0 {
		mtu = 64 * 1024
	}
	c := &Conn{
		ID:          uuid.New(),
		conn:        conn,
		incoming:    make(chan []byte, incomingCapacity),
		closeSignal: make(chan transport.CloseSignal, 1),
		mtu:         mtu,
	}
	c.lastRecv.Store(time.Now())
	go c.readLoop()
	return c
}

// Upgrade upgrades an incoming HTTP request to a WebSocket connection and
// wraps it, for use inside an http.HandlerFunc on the accepting side.
func Upgrade(w http.ResponseWriter, r *http.Request, mtu int) (*Conn, error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(wsConn, mtu), nil
}

// Dial opens the initiating side of a WebSocket substrate connection.
func Dial(url string, mtu int) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return New(wsConn, mtu), nil
}

func (c *Conn) readLoop() {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("ws: read error: %v", err)
			}
			select {
			case c.closeSignal <- closeSignalFor(err):
			default:
			}
			close(c.incoming)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue // ignore text/ping/pong; those are handled by gorilla internally
		}
		c.lastRecv.Store(time.Now())
		select {
		case c.incoming <- payload:
		default:
			log.Warn("ws: incoming queue full, dropping datagram")
		}
	}
}

func closeSignalFor(err error) transport.CloseSignal {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return transport.CloseSignal{Reason: transport.ClosePeer, Detail: closeErr.Text}
	}
	return transport.CloseSignal{Reason: transport.CloseError, Detail: err.Error()}
}

func (c *Conn) SendDatagram(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *Conn) RecvDatagram() ([]byte, bool) {
	select {
	case d, ok := <-c.incoming:
		return d, ok
	default:
		return nil, false
	}
}

func (c *Conn) MTU() int               { return c.mtu }
func (c *Conn) RTT() time.Duration     { return 0 } // no native signal; aeronet's own pkg/rtt estimator is authoritative
func (c *Conn) LocalAddr() net.Addr    { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr   { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		deadline := time.Now().Add(2 * time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		err = c.conn.Close()
		select {
		case c.closeSignal <- transport.CloseSignal{Reason: transport.CloseLocal, Detail: "closed by caller"}:
		default:
		}
	})
	return err
}

// CloseSignal exposes the once-only channel carrying the close cause from
// the IO task to the core.
func (c *Conn) CloseSignal() <-chan transport.CloseSignal { return c.closeSignal }

// IdleFor reports how long it has been since the last message was received.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	last, _ := c.lastRecv.Load().(time.Time)
	return now.Sub(last)
}

var _ transport.Substrate = (*Conn)(nil)
