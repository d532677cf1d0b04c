// Package handshake implements the fixed-layout version-negotiation
// exchange performed over a reliable byte stream before any datagram
// traffic flows.
package handshake

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the fixed 7-byte token that opens every REQUEST.
const Magic = "aeronet"

// RequestLen is the fixed encoded length of a REQUEST: magic(7) + version(8).
const RequestLen = len(Magic) + 8

const (
	responseOK  byte = 0x01
	responseErr byte = 0x02
)

// Stream is the reliable byte-stream contract the handshake needs from the
// substrate: blocking (or context-bound, at the caller's discretion)
// full-buffer read/write.
type Stream interface {
	io.Writer
	io.Reader
}

// Mismatch is returned when the peer's version does not match ours.
type Mismatch struct {
	Local, Remote uint64
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("handshake: version mismatch: local=%d remote=%d", m.Local, m.Remote)
}

// encodeRequest builds the 15-byte REQUEST for the given version.
func encodeRequest(version uint64) []byte {
	buf := make([]byte, RequestLen)
	copy(buf, Magic)
	binary.LittleEndian.PutUint64(buf[len(Magic):], version)
	return buf
}

// Initiate performs the initiator side of the handshake: write REQUEST,
// read the 1-byte RESPONSE. It returns a *Mismatch if the acceptor rejected
// the request, or any I/O error encountered.
func Initiate(s Stream, version uint64) error {
	if _, err := s.Write(encodeRequest(version)); err != nil {
		return fmt.Errorf("handshake: write request: %w", err)
	}
	resp := make([]byte, 1)
	if _, err := io.ReadFull(s, resp); err != nil {
		return fmt.Errorf("handshake: read response: %w", err)
	}
	switch resp[0] {
	case responseOK:
		return nil
	case responseErr:
		return &Mismatch{Local: version}
	default:
		return fmt.Errorf("handshake: unrecognized response byte 0x%02x", resp[0])
	}
}

// Accept performs the acceptor side: read exactly RequestLen bytes, compare
// magic and version, write a 1-byte response. On a version mismatch it
// writes the reject response and returns the peer's offered version along
// with a *Mismatch; on bad magic it writes the reject response and returns
// a plain error (not a *Mismatch) and version 0.
func Accept(s Stream, localVersion uint64) (uint64, error) {
	req := make([]byte, RequestLen)
	if _, err := io.ReadFull(s, req); err != nil {
		return 0, fmt.Errorf("handshake: read request: %w", err)
	}
	if string(req[:len(Magic)]) != Magic {
		_, _ = s.Write([]byte{responseErr})
		return 0, fmt.Errorf("handshake: bad magic %q", req[:len(Magic)])
	}
	remoteVersion := binary.LittleEndian.Uint64(req[len(Magic):])
	if remoteVersion != localVersion {
		_, _ = s.Write([]byte{responseErr})
		return remoteVersion, &Mismatch{Local: localVersion, Remote: remoteVersion}
	}
	if _, err := s.Write([]byte{responseOK}); err != nil {
		return remoteVersion, fmt.Errorf("handshake: write response: %w", err)
	}
	return remoteVersion, nil
}
