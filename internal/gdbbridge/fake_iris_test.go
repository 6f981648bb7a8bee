package gdbbridge_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/Linaro/lite-cornea/internal/wire"
)

// fakeIris is a minimal scripted Iris peer, mirroring the harness used by
// internal/iris's own tests: a bare TCP listener that lets the test
// script request/reply and callback frames directly.
type fakeIris struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakeIris(t *testing.T) *fakeIris {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeIris{t: t, ln: ln}
}

func (s *fakeIris) addr() string { return s.ln.Addr().String() }

func (s *fakeIris) accept() {
	s.t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		s.t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
}

func (s *fakeIris) recvFrame() *wire.Frame {
	s.t.Helper()
	_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := wire.ReadFrame(s.r)
	if err != nil {
		s.t.Fatalf("recvFrame: %v", err)
	}
	return f
}

func (s *fakeIris) sendReply(id int64, result any) {
	s.t.Helper()
	raw, err := wire.Marshal(result)
	if err != nil {
		s.t.Fatalf("marshal reply: %v", err)
	}
	if err := wire.WriteFrame(s.conn, &wire.Frame{ID: &id, Result: raw}); err != nil {
		s.t.Fatalf("sendReply: %v", err)
	}
}

func (s *fakeIris) sendCallback(method string, params any) {
	s.t.Helper()
	raw, err := wire.Marshal(params)
	if err != nil {
		s.t.Fatalf("marshal callback: %v", err)
	}
	if err := wire.WriteFrame(s.conn, &wire.Frame{Method: method, Params: raw}); err != nil {
		s.t.Fatalf("sendCallback: %v", err)
	}
}

func (s *fakeIris) hangup() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	_ = s.ln.Close()
}
