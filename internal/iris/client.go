package iris

import (
	"context"
	"time"

	"github.com/Linaro/lite-cornea/internal/cos"
	"github.com/Linaro/lite-cornea/internal/wire"
)

// RawResult is an undecoded call result payload, ready for wire.Unmarshal
// into whatever concrete type the caller expects.
type RawResult = []byte

// Call issues one Iris RPC: it allocates the next request id, registers a
// reply channel, emits the frame, and blocks until a reply arrives, ctx
// is cancelled, or timeout elapses (0 means "use ctx only", for
// explicitly long-running calls such as run-control's runUntilStop per
// spec.md §4.3).
//
// Invariant (spec.md §8, property 1): the payload Call returns always
// corresponds to the frame whose id was allocated for this call — ids are
// never reused while pending, and dispatch only ever hands a reply to the
// matching channel.
func (c *Connection) Call(ctx context.Context, method string, params any, timeout time.Duration) (RawResult, error) {
	id := c.allocID()

	paramsRaw, err := wire.Marshal(params)
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	c.pendMu.Lock()
	if c.pending == nil {
		c.pendMu.Unlock()
		return nil, cos.ErrDisconnected
	}
	_, alreadyPending := c.pending[id]
	cos.Assert(!alreadyPending, "duplicate pending request id", id)
	c.pending[id] = ch
	c.pendMu.Unlock()

	frame := &wire.Frame{ID: &id, Method: method, Params: paramsRaw}
	if err := c.sendFrame(frame); err != nil {
		c.pendMu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.result, nil
	case <-timeoutCh:
		c.pendMu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
		return nil, cos.ErrTimeout
	case <-ctx.Done():
		c.pendMu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
		return nil, ctx.Err()
	}
}

// CallInto issues a Call and decodes its result into out in one step.
func (c *Connection) CallInto(ctx context.Context, method string, params, out any, timeout time.Duration) error {
	result, err := c.Call(ctx, method, params, timeout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return wire.Unmarshal(result, out)
}
