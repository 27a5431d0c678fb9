package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
)

// LoggingUnary returns a unary server interceptor that logs each finished RPC and records its latency.
// Client errors log at Info, server errors at Error. skipMethods are neither logged nor measured.
func LoggingUnary(l *zap.Logger, m *metrics.Metrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	log := logger.WithComponent(l, "grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		elapsed := time.Since(start)
		code := status.Code(err)
		m.RPC(info.FullMethod, code.String(), elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", ClientIP(ctx)),
		}
		if userID, ok := GetUserID(ctx); ok {
			fields = append(fields, zap.String("user_id", userID))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		log.Check(levelFor(code), "rpc").Write(fields...)
		return resp, err
	}
}

func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK:
		return zapcore.DebugLevel
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// RecoveryUnary returns a unary server interceptor that turns a handler panic into codes.Internal.
func RecoveryUnary(l *zap.Logger) grpc.UnaryServerInterceptor {
	log := logger.WithComponent(l, "grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
