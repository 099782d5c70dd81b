// Package dispatch maps decoded requests to their handlers.
//
// The Dispatcher is a pure mapping: it does no I/O and touches no shared
// state after registration. One handler per message.Op; registering a new
// operation never restructures existing ones.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"frame-server/message"
)

// ErrUnknownOp reports a request whose op has no registered handler.
// Connection-local: the worker logs it and continues.
var ErrUnknownOp = errors.New("no handler registered for op")

// HandlerFunc computes the response for one request variant.
type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

// Dispatcher resolves a request's op to its handler. Registration happens
// before the server starts serving; Dispatch is safe for concurrent use
// afterwards.
type Dispatcher struct {
	handlers map[message.Op]HandlerFunc
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[message.Op]HandlerFunc)}
}

// Default creates a dispatcher with the built-in echo and add handlers.
func Default() *Dispatcher {
	d := New()
	d.Register(message.OpEcho, EchoHandler)
	d.Register(message.OpAdd, AddHandler)
	return d
}

// Register binds a handler to an op, replacing any previous binding.
func (d *Dispatcher) Register(op message.Op, h HandlerFunc) {
	d.handlers[op] = h
}

// Dispatch resolves req to a response.
//
// An empty request (OpNone) returns (nil, nil): the caller logs it and
// writes nothing. An op without a handler returns ErrUnknownOp.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	if req == nil || req.Op == message.OpNone {
		return nil, nil
	}

	h, ok := d.handlers[req.Op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOp, req.Op)
	}

	return h(ctx, req)
}

// EchoHandler returns the request payload unchanged.
func EchoHandler(_ context.Context, req *message.Request) (*message.Response, error) {
	if req.Echo == nil {
		return nil, errors.New("echo request without variant")
	}
	return &message.Response{
		Op:   message.OpEcho,
		Echo: &message.EchoResponse{Payload: req.Echo.Payload},
	}, nil
}

// AddHandler computes A + B. Addition uses int64 two's-complement
// semantics and wraps on overflow, matching Go's native + operator.
func AddHandler(_ context.Context, req *message.Request) (*message.Response, error) {
	if req.Add == nil {
		return nil, errors.New("add request without variant")
	}
	return &message.Response{
		Op:  message.OpAdd,
		Add: &message.AddResponse{Result: req.Add.A + req.Add.B},
	}, nil
}
