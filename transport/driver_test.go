package transport

import (
	"net"
	"testing"
	"time"

	"aeronet/pkg/config"
	"aeronet/pkg/handshake"
	"aeronet/pkg/session"
)

// memSubstrate is an in-memory Substrate pairing two sessions without a
// real socket, standing in for transport/udp's Peer so a test can drive two
// Drivers end to end without binding a port.
type memSubstrate struct {
	incoming chan []byte
	peer     *memSubstrate
	mtu      int
}

func newMemSubstratePair(mtu int) (a, b *memSubstrate) {
	a = &memSubstrate{incoming: make(chan []byte, 64), mtu: mtu}
	b = &memSubstrate{incoming: make(chan []byte, 64), mtu: mtu}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *memSubstrate) SendDatagram(payload []byte) error {
	cp := append([]byte(nil), payload...)
	select {
	case m.peer.incoming <- cp:
	default:
	}
	return nil
}

func (m *memSubstrate) RecvDatagram() ([]byte, bool) {
	select {
	case b := <-m.incoming:
		return b, true
	default:
		return nil, false
	}
}

func (m *memSubstrate) MTU() int             { return m.mtu }
func (m *memSubstrate) RTT() time.Duration   { return 0 }
func (m *memSubstrate) LocalAddr() net.Addr  { return nil }
func (m *memSubstrate) RemoteAddr() net.Addr { return nil }
func (m *memSubstrate) Close() error         { return nil }

var _ Substrate = (*memSubstrate)(nil)

// TestDriverCarriesHandshakeAndTraffic assembles the full pipeline end to
// end — a real handshake over a reliable stream, then Session.Establish,
// then two Drivers ticking against a paired in-memory substrate — which
// nothing else in the repo exercises outside individual unit tests. It
// checks the assembled whole by reading Connected and Recv off each side's
// Events channel.
func TestDriverCarriesHandshakeAndTraffic(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	const version = 3
	done := make(chan error, 1)
	go func() { done <- handshake.Initiate(clientConn, version) }()
	if _, err := handshake.Accept(serverConn, version); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	clientCfg := config.New(config.WithLanes(config.UnreliableUnordered), config.WithMTU(1200))
	serverCfg := config.New(config.WithLanes(config.UnreliableUnordered), config.WithMTU(1200))
	clientSess, err := session.New(clientCfg)
	if err != nil {
		t.Fatalf("session.New(client): %v", err)
	}
	serverSess, err := session.New(serverCfg)
	if err != nil {
		t.Fatalf("session.New(server): %v", err)
	}
	clientSess.Establish()
	serverSess.Establish()

	if _, err := clientSess.Send([]byte("hi"), 0); err != nil {
		t.Fatalf("Send: %v", err)
	}

	clientSub, serverSub := newMemSubstratePair(1200)
	clientDriver := NewDriver(clientSub, clientSess, 5*time.Millisecond)
	serverDriver := NewDriver(serverSub, serverSess, 5*time.Millisecond)
	defer clientDriver.Stop()
	defer serverDriver.Stop()

	var sawClientConnected, sawServerConnected, sawServerRecv bool
	deadline := time.After(2 * time.Second)
	for !sawClientConnected || !sawServerConnected || !sawServerRecv {
		select {
		case ev := <-clientDriver.Events():
			if ev.Kind == session.EventConnected {
				sawClientConnected = true
			}
		case ev := <-serverDriver.Events():
			switch ev.Kind {
			case session.EventConnected:
				sawServerConnected = true
			case session.EventRecv:
				if string(ev.Payload) == "hi" {
					sawServerRecv = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for events: clientConnected=%v serverConnected=%v serverRecv=%v",
				sawClientConnected, sawServerConnected, sawServerRecv)
		}
	}
}

// TestNegotiateTimesOut drives the initiator side against a peer that never
// answers: the handshake deadline fires instead of blocking forever.
func TestNegotiateTimesOut(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// Drain the request so the write half completes, then go silent.
	go func() {
		buf := make([]byte, handshake.RequestLen)
		_, _ = serverConn.Read(buf)
	}()

	start := time.Now()
	err := Negotiate(clientConn, 1, 50*time.Millisecond, true)
	if err == nil {
		t.Fatal("expected a timeout error from an unanswered handshake")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handshake did not respect its deadline, took %v", elapsed)
	}
}

// TestNegotiateMatch runs both halves over an in-memory pipe.
func TestNegotiateMatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan error, 1)
	go func() { done <- Negotiate(clientConn, 9, time.Second, true) }()
	if err := Negotiate(serverConn, 9, time.Second, false); err != nil {
		t.Fatalf("acceptor: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("initiator: %v", err)
	}
}
