package handshake

import (
	"bytes"
	"io"
	"testing"
)

// pipe is a minimal in-memory Stream backed by two blocking io.Pipes, one
// per direction, so Initiate and Accept can be driven against each other
// from separate goroutines: a Read blocks until the peer's Write delivers
// data, matching the blocking Stream contract the handshake package expects.
type pipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func (p *pipe) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.writer.Write(b) }

func newPipePair() (client *pipe, server *pipe) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	client = &pipe{reader: s2cR, writer: c2sW}
	server = &pipe{reader: c2sR, writer: s2cW}
	return
}

func TestHandshakeMatchingVersion(t *testing.T) {
	client, server := newPipePair()

	done := make(chan error, 1)
	go func() { done <- Initiate(client, 7) }()

	remoteVersion, err := Accept(server, 7)
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if remoteVersion != 7 {
		t.Errorf("remoteVersion = %d, want 7", remoteVersion)
	}
	if err := <-done; err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
}

func TestHandshakeVersionMismatch(t *testing.T) {
	client, server := newPipePair()

	done := make(chan error, 1)
	go func() { done <- Initiate(client, 1) }()

	_, err := Accept(server, 2)
	var mismatch *Mismatch
	if err == nil {
		t.Fatal("expected mismatch error from Accept")
	}
	if !asMismatch(err, &mismatch) {
		t.Fatalf("expected *Mismatch, got %T: %v", err, err)
	}

	initErr := <-done
	if !asMismatch(initErr, &mismatch) {
		t.Fatalf("expected *Mismatch from Initiate, got %T: %v", initErr, initErr)
	}
}

func asMismatch(err error, target **Mismatch) bool {
	m, ok := err.(*Mismatch)
	if ok {
		*target = m
	}
	return ok
}

type readWriter struct {
	io.Reader
	io.Writer
}

func TestAcceptRejectsBadMagic(t *testing.T) {
	server := &readWriter{Reader: bytes.NewBuffer(make([]byte, RequestLen)), Writer: &bytes.Buffer{}}
	_, err := Accept(server, 1)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestAcceptRejectsShortRead(t *testing.T) {
	server := &readWriter{Reader: bytes.NewBuffer([]byte("short")), Writer: &bytes.Buffer{}}
	_, err := Accept(server, 1)
	if err == nil || err == io.EOF {
		t.Fatalf("expected a wrapped short-read error, got %v", err)
	}
}
