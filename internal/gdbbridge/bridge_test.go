package gdbbridge_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/Linaro/lite-cornea/internal/gdbbridge"
	"github.com/Linaro/lite-cornea/internal/gdbrsp"
	"github.com/Linaro/lite-cornea/internal/iris"
)

// syncBuffer is a thread-safe io.Writer/io.Reader standing in for the
// GDB stdout stream: unlike io.Pipe, a Write never blocks waiting for a
// concurrent Read, which matters here because the bridge writes an ack
// byte and a reply packet as two separate, unsynchronized writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Read polls the underlying buffer until at least one byte is available,
// since the real stdout stream the bridge targets is never closed mid-test.
func (b *syncBuffer) Read(p []byte) (int, error) {
	for {
		b.mu.Lock()
		n, err := b.buf.Read(p)
		b.mu.Unlock()
		if n > 0 || err != nil {
			return n, err
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var armv6mResourceNames = []string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc", "xpsr",
}

func sendArmv6mResourceList(t *testing.T, srv *fakeIris) {
	t.Helper()
	f := srv.recvFrame()
	resources := make([]map[string]any, len(armv6mResourceNames))
	for i, name := range armv6mResourceNames {
		resources[i] = map[string]any{
			"resourceId": int64(i + 1),
			"name":       name,
			"kind":       "register",
			"width":      4,
		}
	}
	srv.sendReply(*f.ID, map[string]any{"resources": resources})
}

// newTestBridge wires a Bridge to a fake Iris server (after answering its
// one resourceGetList call) and a pair of in-memory pipes standing in for
// the GDB stdin/stdout stream.
func newTestBridge(t *testing.T) (br *gdbbridge.Bridge, srv *fakeIris, gdbIn io.WriteCloser, gdbOut *bufio.Reader, cleanup func()) {
	t.Helper()
	g := NewWithT(t)

	srv = newFakeIris(t)
	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())

	time.Sleep(20 * time.Millisecond)

	inR, inW := io.Pipe()
	out := &syncBuffer{}

	done := make(chan struct{})
	var bridge *gdbbridge.Bridge
	go func() {
		defer close(done)
		sendArmv6mResourceList(t, srv)
	}()

	cat := iris.NewCatalog(conn)
	bridge, err = gdbbridge.New(context.Background(), conn, cat, 1, inR, out, "", 0)
	<-done
	g.Expect(err).NotTo(HaveOccurred())

	cleanup = func() {
		bridge.Close()
		_ = conn.Close()
		srv.hangup()
	}
	return bridge, srv, inW, bufio.NewReader(out), cleanup
}

func sendGdbPacket(t *testing.T, w io.Writer, payload []byte) {
	t.Helper()
	if _, err := w.Write(gdbrsp.EncodePacket(payload)); err != nil {
		t.Fatalf("write gdb packet: %v", err)
	}
}

func recvGdbReply(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	// Skip one leading '+' ack byte, written after every accepted packet
	// while ack mode is on.
	b, err := r.ReadByte()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if b != '+' {
		if err := r.UnreadByte(); err != nil {
			t.Fatalf("unread: %v", err)
		}
	}
	payload, _, err := gdbrsp.ReadPacket(r)
	if err != nil {
		t.Fatalf("read gdb reply: %v", err)
	}
	return payload
}

// S5 (gdb m/M): GDB sends $m1000,4#..; the bridge issues memoryRead
// against the selected CPU and replies with the 8-hex-digit payload.
func TestMemoryReadPacket(t *testing.T) {
	g := NewWithT(t)

	bridge, srv, gdbIn, gdbOut, cleanup := newTestBridge(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- bridge.Run(ctx) }()

	sendGdbPacket(t, gdbIn, []byte("m1000,4"))

	f := srv.recvFrame()
	data := []byte{0x01, 0x02, 0x03, 0x04}
	srv.sendReply(*f.ID, map[string]any{"data": base64.StdEncoding.EncodeToString(data)})

	reply := recvGdbReply(t, gdbOut)
	g.Expect(string(reply)).To(Equal("01020304"))
}

// S6 (gdb continue + stop): after $vCont;c#.., the bridge issues an Iris
// resume; a breakpoint-hit callback produces a $T05hwbreak:;#.. reply to
// GDB.
func TestContinueThenBreakpointStop(t *testing.T) {
	g := NewWithT(t)

	bridge, srv, gdbIn, gdbOut, cleanup := newTestBridge(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- bridge.Run(ctx) }()

	sendGdbPacket(t, gdbIn, []byte("vCont;c"))

	// The bridge's resume RPC ("perInstanceExecutionControl.run") is now
	// in flight and will never be answered in this test; instead an
	// asynchronous breakpoint-hit callback reports the stop, which is how
	// a real Iris server would behave for a long-running resume.
	runFrame := srv.recvFrame()
	g.Expect(runFrame.Method).To(Equal("perInstanceExecutionControl.run"))
	g.Expect(runFrame.ID).NotTo(BeNil())

	srv.sendCallback("ecInstanceBreakpointHit", map[string]any{"instId": 1, "breakpointId": 3})

	reasonFrame := srv.recvFrame()
	srv.sendReply(*reasonFrame.ID, map[string]any{"reason": "breakpoint"})

	reply := recvGdbReply(t, gdbOut)
	g.Expect(string(reply)).To(Equal("T05hwbreak:;"))
}
