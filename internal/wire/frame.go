// Package wire implements the Iris wire codec (spec.md §4.1, component
// C1): framing a JSON payload behind a fixed, parseable length header on
// a byte stream. It is stateless — encode and decode operate on whatever
// io.Reader/io.Writer the transport layer hands it — and knows nothing
// about request correlation or callback dispatch; that's internal/iris's
// job.
//
// The header/body split is the same idea as AIStore's transport/pdu.go
// fixed-size protocol header in front of a variable-length payload,
// adapted from a binary object-transfer header to a decimal-ASCII length
// prefix appropriate for a JSON-RPC style wire format.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/Linaro/lite-cornea/internal/cos"
)

// MaxFrameSize is the implementation limit on a single frame's JSON
// payload (spec.md §4.1: "at least 16 MiB").
const MaxFrameSize = 16 << 20

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorPayload is the shape of a frame's "error" field.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Frame is one Iris wire frame: either a reply/error correlated to a
// prior request by ID, or a server-initiated callback named by Method
// with no reply expected (spec.md §4.1).
type Frame struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params jsoniter.RawMessage `json:"params,omitempty"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// IsCallback reports whether this frame is a server-initiated callback
// (method set, no reply expected) rather than a reply to an outstanding
// request.
func (f *Frame) IsCallback() bool { return f.Method != "" }

// Marshal encodes v (typically a Go struct tagged for jsoniter/encoding-
// json) as a Params or Result payload ready to assign onto a Frame.
func Marshal(v any) (jsoniter.RawMessage, error) {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, cos.Wrap(err, "wire: marshal")
	}
	return jsoniter.RawMessage(b), nil
}

// Unmarshal decodes a Params/Result payload into v.
func Unmarshal(raw jsoniter.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := jsonAPI.Unmarshal(raw, v); err != nil {
		return cos.Wrap(err, "wire: unmarshal")
	}
	return nil
}

// WriteFrame serializes f and writes "<decimal length>\n<json bytes>" to w.
// The header and the body are written as two separate Writes; the
// transport's writer mutex is what makes the pair atomic with respect to
// other writers on the same connection (spec.md §4.2).
func WriteFrame(w io.Writer, f *Frame) error {
	body, err := jsonAPI.Marshal(f)
	if err != nil {
		return cos.Wrap(err, "wire: encode frame")
	}
	if len(body) > MaxFrameSize {
		return &cos.ErrMalformedFrame{Reason: fmt.Sprintf("outgoing frame %d bytes exceeds limit %d", len(body), MaxFrameSize)}
	}
	header := strconv.Itoa(len(body)) + "\n"
	if _, err := io.WriteString(w, header); err != nil {
		return cos.Wrap(err, "wire: write header")
	}
	if _, err := w.Write(body); err != nil {
		return cos.Wrap(err, "wire: write body")
	}
	return nil
}

// ReadFrame reads one "<decimal length>\n<json bytes>" frame from r and
// decodes it. r is a *bufio.Reader so the ASCII length line can be
// consumed without over-reading into the body.
func ReadFrame(r *bufio.Reader) (*Frame, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		return nil, cos.Wrap(err, "wire: read header")
	}
	line = trimNewline(line)
	n, err := strconv.Atoi(line)
	if err != nil || n < 0 {
		return nil, &cos.ErrMalformedFrame{Reason: fmt.Sprintf("invalid length header %q", line)}
	}
	if n > MaxFrameSize {
		return nil, &cos.ErrMalformedFrame{Reason: fmt.Sprintf("frame length %d exceeds limit %d", n, MaxFrameSize)}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, cos.Wrap(err, "wire: read body")
	}
	f := &Frame{}
	if err := jsonAPI.Unmarshal(body, f); err != nil {
		return nil, &cos.ErrMalformedFrame{Reason: "body is not a valid Iris frame: " + err.Error()}
	}
	return f, nil
}

func trimNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
