package middleware

import (
	"context"
	"mprpc/message"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every request's service method, duration, and
// any handler error, using log the caller provides (zap.NewNop() if
// nil) rather than the package-global logger.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			rpcMessage := next(ctx, req)
			duration := time.Since(start)
			fields := []zap.Field{
				zap.String("serviceMethod", req.ServiceMethod),
				zap.Duration("duration", duration),
			}
			if rpcMessage.Error != "" {
				log.Warn("rpc call failed", append(fields, zap.String("error", rpcMessage.Error))...)
			} else {
				log.Info("rpc call completed", fields...)
			}
			return rpcMessage
		}
	}
}
