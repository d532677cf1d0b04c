package transport

import (
	"time"

	"aeronet/pkg/handshake"
)

// deadliner is the optional deadline surface of a ReliableStream. net.Conn
// and quic.Stream both provide it; an in-memory bytes.Buffer pair does not.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Negotiate runs the version handshake over stream, bounding the whole
// exchange with timeout when the stream supports deadlines. A timeout of
// zero disables the bound. The initiator writes the request and reads the
// response; the acceptor does the reverse. On the acceptor side a version
// mismatch still writes the reject byte before the error is returned, so
// the peer learns why it was refused.
func Negotiate(stream ReliableStream, version uint64, timeout time.Duration, initiator bool) error {
	if d, ok := stream.(deadliner); ok && timeout > 0 {
		_ = d.SetDeadline(time.Now().Add(timeout))
		defer func() { _ = d.SetDeadline(time.Time{}) }()
	}
	if initiator {
		return handshake.Initiate(stream, version)
	}
	_, err := handshake.Accept(stream, version)
	return err
}
