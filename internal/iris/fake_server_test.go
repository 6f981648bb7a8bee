package iris_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/Linaro/lite-cornea/internal/wire"
)

// fakeServer is a minimal scripted Iris peer: it accepts one TCP
// connection and lets a test read/write wire.Frame values directly,
// without any RPC semantics of its own. This mirrors how aistore's own
// transport tests stand up a bare net.Listener rather than a full mock
// HTTP server when all that's needed is control over framing.
type fakeServer struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{t: t, ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) accept() {
	s.t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		s.t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
}

func (s *fakeServer) recvFrame() *wire.Frame {
	s.t.Helper()
	_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	f, err := wire.ReadFrame(s.r)
	if err != nil {
		s.t.Fatalf("recvFrame: %v", err)
	}
	return f
}

func (s *fakeServer) sendFrame(f *wire.Frame) {
	s.t.Helper()
	if err := wire.WriteFrame(s.conn, f); err != nil {
		s.t.Fatalf("sendFrame: %v", err)
	}
}

func (s *fakeServer) sendReply(id int64, result any) {
	s.t.Helper()
	raw, err := wire.Marshal(result)
	if err != nil {
		s.t.Fatalf("marshal reply: %v", err)
	}
	s.sendFrame(&wire.Frame{ID: &id, Result: raw})
}

func (s *fakeServer) sendCallback(method string, params any) {
	s.t.Helper()
	raw, err := wire.Marshal(params)
	if err != nil {
		s.t.Fatalf("marshal callback: %v", err)
	}
	s.sendFrame(&wire.Frame{Method: method, Params: raw})
}

func (s *fakeServer) hangup() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	_ = s.ln.Close()
}
