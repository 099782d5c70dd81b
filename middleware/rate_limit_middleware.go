package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"frame-server/message"
)

// RateLimitMiddleware rejects requests beyond the token bucket's capacity
// with an error response instead of dispatching them. The limiter is
// shared across all connections using the same chain.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.ErrorResponse(req.Op, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
