package iris_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/Linaro/lite-cornea/internal/iris"
)

// Invariant 2: per (instance, event source), events are delivered to a
// subscriber in the order the server emitted them.
func TestEventDeliveryPreservesOrder(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	sub, err := conn.SubscribeEventSource(1, 7, 8)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Unsubscribe(sub)

	for i := uint64(0); i < 5; i++ {
		srv.sendCallback("eventStreamNotify", map[string]any{
			"instId":        1,
			"eventSourceId": 7,
			"time":          i,
			"fields":        map[string]any{"n": i},
		})
	}

	for i := uint64(0); i < 5; i++ {
		select {
		case d := <-sub.C():
			g.Expect(d.Record).NotTo(BeNil())
			g.Expect(d.Record.SimTime).To(Equal(i))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

// Invariant: a slow subscriber never blocks the reader; overflow is
// recorded and the next successful delivery is preceded by exactly one
// coalesced EventDropped marker.
func TestSlowSubscriberGetsCoalescedDropMarker(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)

	sub, err := conn.SubscribeEventSource(1, 7, 1) // depth 1: easy to overflow
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Unsubscribe(sub)

	const total = 10
	for i := 0; i < total; i++ {
		srv.sendCallback("eventStreamNotify", map[string]any{
			"instId":        1,
			"eventSourceId": 7,
			"time":          i,
			"fields":        map[string]any{},
		})
	}

	// Give the reader goroutine time to push everything it can into the
	// depth-1 channel before we start draining.
	time.Sleep(100 * time.Millisecond)

	var sawDrop bool
	var delivered int
drain:
	for {
		select {
		case d := <-sub.C():
			if d.Dropped != nil {
				sawDrop = true
			} else {
				delivered++
			}
		case <-time.After(100 * time.Millisecond):
			break drain
		}
	}

	g.Expect(sawDrop).To(BeTrue())
	g.Expect(delivered).To(BeNumerically("<", total))
}

// Invariant 4: disconnecting the connection closes every live
// subscription channel instead of leaving it open forever.
func TestDisconnectClosesSubscriptions(t *testing.T) {
	g := NewWithT(t)

	srv := newFakeServer(t)
	defer srv.hangup()

	go srv.accept()
	conn, err := iris.Dial(srv.addr(), time.Second)
	g.Expect(err).NotTo(HaveOccurred())

	time.Sleep(20 * time.Millisecond)

	sub, err := conn.SubscribeEventSource(1, 7, 4)
	g.Expect(err).NotTo(HaveOccurred())

	srv.hangup()

	select {
	case _, ok := <-sub.C():
		g.Expect(ok).To(BeFalse())
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel never closed after disconnect")
	}
}
