package ws

import (
	"net/http"
	"sync"
)

// Manager accepts incoming WebSocket connections on an HTTP handler,
// assigning each an aeronet substrate and invoking OnAccept, mirroring
// transport/udp.Manager's accept-callback shape for the connection-oriented
// case (no address-based demux is needed — each *websocket.Conn is already
// its own session).
type Manager struct {
	mtu      int
	onAccept func(*Conn)

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewManager creates a Manager; onAccept is invoked once per accepted
// connection from the HTTP handler's goroutine.
func NewManager(mtu int, onAccept func(*Conn)) *Manager {
	return &Manager{mtu: mtu, onAccept: onAccept, conns: make(map[*Conn]struct{})}
}

// Handler returns an http.HandlerFunc suitable for mux.Handle("/aeronet", ...).
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, m.mtu)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns[conn] = struct{}{}
		m.mu.Unlock()
		if m.onAccept != nil {
			m.onAccept(conn)
		}
	}
}

// Close closes every connection the manager has accepted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.conns {
		c.Close()
	}
	return nil
}
