package middleware

import (
	"context"
	"time"

	"frame-server/message"
)

// TimeOutMiddleware bounds a single dispatch. If the handler does not
// return within the timeout, the caller gets an error response; the
// handler goroutine finishes in the background.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.ErrorResponse(req.Op, "request timed out")
			}
		}
	}
}
