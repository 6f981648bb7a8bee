// Package cos provides the small set of common low-level types shared by
// every lite-cornea package: the typed error family from the connection
// and bridge state machines, and debug-only invariant assertions.
package cos

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDisconnected is returned by every in-flight call and every
// subscription once the Iris transport has entered its terminal closed
// state (spec.md §7).
var ErrDisconnected = errors.New("iris: connection closed")

// ErrTimeout is returned when an RPC call exceeds its deadline.
var ErrTimeout = errors.New("iris: call timed out")

type (
	// ErrMalformedFrame means the peer sent a frame the wire codec could
	// not parse: a bad length header, a header that exceeds MaxFrameSize,
	// or a body that is not valid structured data.
	ErrMalformedFrame struct {
		Reason string
	}

	// RpcError is the translated form of an Iris frame's "error" payload:
	// a non-fatal, call-scoped failure reported by the server.
	RpcError struct {
		Code    int
		Message string
	}

	// ErrUnknownInstance is returned by catalog lookups that miss after
	// querying the server.
	ErrUnknownInstance struct{ Path string }

	// ErrUnknownResource is returned when a named resource does not
	// exist on the given instance.
	ErrUnknownResource struct {
		InstancePath string
		Name         string
	}

	// ErrUnknownEventSource is returned when a named event source does
	// not exist on the given instance.
	ErrUnknownEventSource struct {
		InstancePath string
		Name         string
	}

	// ErrGdbProtocol means a GDB packet was malformed beyond recovery;
	// the bridge terminates the session.
	ErrGdbProtocol struct {
		Reason string
	}

	// EventDropped is an advisory, non-fatal marker delivered to an event
	// sink in place of one or more events lost to queue overflow.
	EventDropped struct {
		Instance int64
		Source   int64
		Count    int
	}
)

func (e *ErrMalformedFrame) Error() string { return "iris: malformed frame: " + e.Reason }

func (e *RpcError) Error() string { return fmt.Sprintf("iris: rpc error %d: %s", e.Code, e.Message) }

func (e *ErrUnknownInstance) Error() string { return "iris: unknown instance: " + e.Path }

func (e *ErrUnknownResource) Error() string {
	return fmt.Sprintf("iris: unknown resource %q on instance %q", e.Name, e.InstancePath)
}

func (e *ErrUnknownEventSource) Error() string {
	return fmt.Sprintf("iris: unknown event source %q on instance %q", e.Name, e.InstancePath)
}

func (e *ErrGdbProtocol) Error() string { return "gdb: protocol error: " + e.Reason }

func (e *EventDropped) Error() string {
	return fmt.Sprintf("iris: dropped %d event(s) on instance=%d source=%d (subscriber too slow)",
		e.Count, e.Instance, e.Source)
}

// IsDisconnected reports whether err is, or wraps, ErrDisconnected.
func IsDisconnected(err error) bool { return errors.Is(err, ErrDisconnected) }

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// AsRpcError unwraps err into an *RpcError if that's what it (transitively) is.
func AsRpcError(err error) (*RpcError, bool) {
	var rerr *RpcError
	ok := errors.As(err, &rerr)
	return rerr, ok
}

// Wrap is a thin alias over github.com/pkg/errors.Wrap kept here so
// callers only need to import one package for both the typed errors and
// the wrapping convention used across the RPC boundary.
func Wrap(err error, msg string) error { return errors.Wrap(err, msg) }

// Wrapf is the formatted form of Wrap.
func Wrapf(err error, format string, args ...any) error { return errors.Wrapf(err, format, args...) }
