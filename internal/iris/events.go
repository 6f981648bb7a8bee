package iris

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/nlog"
	"github.com/Linaro/lite-cornea/internal/wire"
)

// eventNotifyMethod is the method name the Iris server uses for generic
// event-source data callbacks created by eventStreamCreate (spec.md §6
// names the control-plane callback methods explicitly but leaves the
// generic event-stream delivery method unspecified; this is the one
// naming convention this implementation assumes).
const eventNotifyMethod = "eventStreamNotify"

// routeKey identifies one delivery channel: either a named control-plane
// callback on a specific instance (channel == the method name, used by
// the GDB bridge for ecExecutionStopped/ecInstanceBreakpointHit) or a
// generic event-source stream (channel == "src:<sourceID>", used by the
// event-log/event-sources CLI surface).
type routeKey struct {
	instance int64
	channel  string
}

const sourceChannelPrefix = "src:"

func sourceChannel(sourceID int64) string { return sourceChannelPrefix + strconv.FormatInt(sourceID, 10) }

// channelSourceID recovers the event-source id from a generic event-
// stream routeKey's channel string, or 0 for a control-plane channel
// (which is keyed by method name, not source id).
func channelSourceID(channel string) int64 {
	if !strings.HasPrefix(channel, sourceChannelPrefix) {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(channel, sourceChannelPrefix), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Delivery is one item handed to a Subscription's channel: a decoded
// EventRecord for generic event-source subscriptions, a raw callback
// Frame for control-plane subscriptions, or (exclusively) a Dropped
// marker when the subscriber fell behind.
type Delivery struct {
	Record  *EventRecord
	Frame   *wire.Frame
	Dropped *cos.EventDropped
}

// EventRecord is spec.md §3's "Event record": one structured sample from
// an event source, with fields typed per the source's field descriptors.
type EventRecord struct {
	EventSourceID int64
	InstanceID    int64
	SimTime       uint64
	Fields        map[string]Value
}

type eventNotifyParams struct {
	InstID        int64            `json:"instId"`
	EventSourceID int64            `json:"eventSourceId"`
	Time          uint64           `json:"time"`
	Fields        map[string]Value `json:"fields"`
}

type controlPlaneParams struct {
	InstID int64 `json:"instId"`
}

// Subscription is spec.md §3's "Subscription": (instance, channel,
// sink). One bounded channel per sink so a slow consumer can never block
// the reader goroutine (spec.md §4.4); on overflow the router records a
// drop and keeps going instead of blocking or panicking.
type Subscription struct {
	key     routeKey
	ch      chan Delivery
	dropped atomic.Int64
	pending atomic.Bool // a coalesced drop marker is queued, waiting to be sent
	closed  atomic.Bool
}

// C returns the channel to read deliveries from. It is closed when the
// subscription is cancelled or the connection disconnects.
func (s *Subscription) C() <-chan Delivery { return s.ch }

type eventRouter struct {
	mu     sync.Mutex
	routes map[routeKey]map[*Subscription]struct{}
	closed bool
}

func newEventRouter() *eventRouter {
	return &eventRouter{routes: make(map[routeKey]map[*Subscription]struct{})}
}

func (r *eventRouter) subscribe(key routeKey, queueDepth int) (*Subscription, error) {
	if queueDepth <= 0 {
		queueDepth = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, cos.ErrDisconnected
	}
	sub := &Subscription{key: key, ch: make(chan Delivery, queueDepth)}
	set, ok := r.routes[key]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.routes[key] = set
	}
	// Invariant (spec.md §3): at most one subscription per (instance,
	// source/channel, sink) — a sink identity here is the *Subscription
	// itself, freshly allocated, so this can never collide; the
	// invariant is really about callers not re-subscribing the same
	// logical sink twice, which is enforced by callers owning their own
	// *Subscription handle.
	set[sub] = struct{}{}
	return sub, nil
}

// unsubscribe removes sub from the router and closes its channel. Safe
// to call more than once.
func (r *eventRouter) unsubscribe(sub *Subscription) {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	if set, ok := r.routes[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.routes, sub.key)
		}
	}
	r.mu.Unlock()
	close(sub.ch)
}

func (r *eventRouter) closeAll() {
	r.mu.Lock()
	r.closed = true
	routes := r.routes
	r.routes = make(map[routeKey]map[*Subscription]struct{})
	r.mu.Unlock()

	for _, set := range routes {
		for sub := range set {
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.ch)
			}
		}
	}
}

// deliver routes one decoded callback frame to every subscription on its
// (instance, channel) key, in the order the server emitted it (spec.md
// §5 "Per (instance, event-source), events are delivered to subscribers
// in the order received from the server" — this holds here because
// deliver always runs on the single reader goroutine).
func (r *eventRouter) deliver(f *wire.Frame) {
	if f.Method == eventNotifyMethod {
		var p eventNotifyParams
		if err := wire.Unmarshal(f.Params, &p); err != nil {
			nlog.Warningf("iris: malformed event-stream callback: %v", err)
			return
		}
		key := routeKey{instance: p.InstID, channel: sourceChannel(p.EventSourceID)}
		record := &EventRecord{EventSourceID: p.EventSourceID, InstanceID: p.InstID, SimTime: p.Time, Fields: p.Fields}
		r.fanOut(key, Delivery{Record: record})
		return
	}

	var p controlPlaneParams
	if err := wire.Unmarshal(f.Params, &p); err != nil {
		nlog.Warningf("iris: malformed %s callback: %v", f.Method, err)
		return
	}
	key := routeKey{instance: p.InstID, channel: f.Method}
	r.fanOut(key, Delivery{Frame: f})
}

func (r *eventRouter) fanOut(key routeKey, d Delivery) {
	r.mu.Lock()
	set := r.routes[key]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.offer(d)
	}
}

// offer delivers d without ever blocking the caller (the reader
// goroutine). A full queue increments the drop counter instead; the next
// successful send is preceded by one coalesced EventDropped marker.
func (s *Subscription) offer(d Delivery) {
	if s.pending.Load() {
		if !s.tryFlushDrop() {
			s.dropped.Add(1)
			return
		}
	}
	select {
	case s.ch <- d:
	default:
		s.dropped.Add(1)
		s.pending.Store(true)
	}
}

// sourceID is the event-source id this subscription was opened for, or 0
// for a control-plane subscription (SubscribeControl), which has none.
func (s *Subscription) sourceID() int64 { return channelSourceID(s.key.channel) }

func (s *Subscription) tryFlushDrop() bool {
	n := s.dropped.Load()
	if n == 0 {
		return true
	}
	marker := Delivery{Dropped: &cos.EventDropped{Instance: s.key.instance, Source: s.sourceID(), Count: int(n)}}
	select {
	case s.ch <- marker:
		s.dropped.Add(-n)
		s.pending.Store(false)
		return true
	default:
		return false
	}
}

// SubscribeEventSource registers a sink for every sample the server
// delivers for one (instance, event source), per spec.md's event-log CLI
// surface. queueDepth bounds how many undelivered records may accumulate
// before the router starts coalescing drops (spec.md §4.4).
func (c *Connection) SubscribeEventSource(instID, sourceID int64, queueDepth int) (*Subscription, error) {
	return c.router.subscribe(routeKey{instance: instID, channel: sourceChannel(sourceID)}, queueDepth)
}

// SubscribeControl registers a sink for a named control-plane callback
// scoped to one instance, such as ecExecutionStopped or
// ecInstanceBreakpointHit, used by the GDB bridge (spec.md §4.7) to learn
// when the simulator stops.
func (c *Connection) SubscribeControl(instID int64, method string, queueDepth int) (*Subscription, error) {
	return c.router.subscribe(routeKey{instance: instID, channel: method}, queueDepth)
}

// Unsubscribe tears a subscription down and releases its channel.
func (c *Connection) Unsubscribe(sub *Subscription) { c.router.unsubscribe(sub) }
