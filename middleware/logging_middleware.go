package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"frame-server/message"
)

// LoggingMiddleware logs every dispatched request with its op, duration,
// and error (if any). Requests that produce no response (empty or unknown
// messages) are logged at debug level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			if resp == nil {
				logger.Debug("request produced no response",
					zap.Stringer("op", req.Op),
					zap.Duration("duration", duration))
				return nil
			}
			if resp.Err != "" {
				logger.Warn("dispatch error",
					zap.Stringer("op", req.Op),
					zap.Duration("duration", duration),
					zap.String("error", resp.Err))
				return resp
			}
			logger.Debug("request dispatched",
				zap.Stringer("op", req.Op),
				zap.Duration("duration", duration))
			return resp
		}
	}
}
