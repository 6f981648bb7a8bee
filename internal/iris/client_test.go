package iris_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/iris"
	"github.com/Linaro/lite-cornea/internal/wire"
)

// S2 (concurrent calls): two concurrent resourceRead calls with ids 1 and
// 2; the fake server replies out of order (2, then 1). Each caller must
// still receive its own payload (spec.md §8, invariant 1).
func TestConcurrentCallsCorrelateByID(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	// give accept() a moment to land before the server reads
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	results := make([]iris.ResourceValue, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = conn.ResourceRead(context.Background(), 1, 10)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = conn.ResourceRead(context.Background(), 1, 20)
	}()

	f1 := srv.recvFrame()
	f2 := srv.recvFrame()

	// Reply out of order: whichever request arrived second gets answered
	// first. Either goroutine's request may arrive first, so each reply
	// carries the payload of the resource that request asked for.
	srv.sendReply(*f2.ID, map[string]any{"value": valueForResource(t, f2)})
	srv.sendReply(*f1.ID, map[string]any{"value": valueForResource(t, f1)})

	wg.Wait()

	g.Expect(errs[0]).NotTo(HaveOccurred())
	g.Expect(errs[1]).NotTo(HaveOccurred())
	g.Expect(results[0].Value).To(Equal(uint64(111)))
	g.Expect(results[1].Value).To(Equal(uint64(222)))
}

// valueForResource returns the scripted resourceRead payload for the
// resource f asks for: 111 for resource 10, 222 for any other.
func valueForResource(t *testing.T, f *wire.Frame) int {
	t.Helper()
	var params struct {
		ResourceID int64 `json:"resourceId"`
	}
	if err := wire.Unmarshal(f.Params, &params); err != nil {
		t.Fatalf("decode resourceRead params: %v", err)
	}
	if params.ResourceID == 10 {
		return 111
	}
	return 222
}

// Invariant 4: once the connection is disconnected, no further reply or
// event is ever delivered, and every in-flight call fails with
// ErrDisconnected.
func TestDisconnectFailsPendingCalls(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), 2*time.Second)
	g.Expect(err).NotTo(HaveOccurred())

	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := conn.ResourceRead(context.Background(), 1, 10)
		done <- err
	}()

	_ = srv.recvFrame()
	srv.hangup()

	select {
	case err := <-done:
		g.Expect(cos.IsDisconnected(err)).To(BeTrue())
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail after server hangup")
	}

	g.Expect(conn.Closed()).To(BeTrue())

	_, err = conn.ResourceRead(context.Background(), 1, 10)
	g.Expect(cos.IsDisconnected(err)).To(BeTrue())
}

func TestCallTimesOutWithoutServerReply(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), 30*time.Millisecond)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err = conn.ResourceRead(context.Background(), 1, 10)
	g.Expect(cos.IsTimeout(err)).To(BeTrue())
	g.Expect(time.Since(start)).To(BeNumerically("<", time.Second))
}
