// Package middleware wraps the dispatch step of a connection worker in an
// onion of cross-cutting concerns (logging, rate limiting, timeouts, panic
// recovery).
//
// A HandlerFunc may return nil, meaning "no response is written for this
// request" (empty or unknown messages). Every middleware must pass a nil
// response through unchanged.
package middleware

import (
	"context"

	"frame-server/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one. Chain(A, B, C)(handler)
// executes A.before → B.before → C.before → handler → C.after → B.after → A.after.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
