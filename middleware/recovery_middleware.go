package middleware

import (
	"context"

	"go.uber.org/zap"

	"frame-server/message"
)

// RecoveryMiddleware turns a handler panic into an error response. A panic
// in one handler must never take down the worker goroutine, let alone the
// server.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.Stringer("op", req.Op),
						zap.Any("panic", r))
					resp = message.ErrorResponse(req.Op, "internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}
