// Package message defines the typed request and response unions exchanged
// between client and server.
//
// A Request carries exactly one active variant, selected by its Op field.
// The zero value (OpNone, no variant pointer set) models an empty message:
// the server logs it and writes nothing back. Adding a new operation means
// adding one request/response struct pair, one Op constant, and one handler
// registration — nothing existing changes.
package message

// Op selects which variant of a Request or Response is active.
type Op byte

const (
	OpNone Op = 0 // empty message, no variant present
	OpEcho Op = 1
	OpAdd  Op = 2
)

// String returns the wire-stable name of the operation, used in logs and metrics.
func (op Op) String() string {
	switch op {
	case OpEcho:
		return "echo"
	case OpAdd:
		return "add"
	case OpNone:
		return "none"
	default:
		return "unknown"
	}
}

// EchoRequest asks the server to send Payload back unchanged.
type EchoRequest struct {
	Payload []byte
}

// AddRequest asks the server to compute A + B.
// Addition is two's-complement int64 arithmetic and wraps on overflow.
type AddRequest struct {
	A int64
	B int64
}

// Request is the tagged union for everything a client can send.
// Exactly one variant pointer is non-nil, matching Op; a Request is
// treated as immutable once decoded.
type Request struct {
	Op   Op
	Echo *EchoRequest
	Add  *AddRequest
}

// EchoResponse carries the echoed payload.
type EchoResponse struct {
	Payload []byte
}

// AddResponse carries the wrapped int64 sum.
type AddResponse struct {
	Result int64
}

// Response is the tagged union mirroring Request's result variants.
// Err is non-empty when the server rejected or failed the request; in
// that case no variant pointer is set.
type Response struct {
	Op   Op
	Err  string
	Echo *EchoResponse
	Add  *AddResponse
}

// NewEchoRequest builds an echo request for the given payload.
func NewEchoRequest(payload []byte) *Request {
	return &Request{Op: OpEcho, Echo: &EchoRequest{Payload: payload}}
}

// NewAddRequest builds an addition request for the given operands.
func NewAddRequest(a, b int64) *Request {
	return &Request{Op: OpAdd, Add: &AddRequest{A: a, B: b}}
}

// ErrorResponse builds a response carrying only an error string, e.g. when
// a middleware rejects the request before it reaches a handler.
func ErrorResponse(op Op, err string) *Response {
	return &Response{Op: op, Err: err}
}
