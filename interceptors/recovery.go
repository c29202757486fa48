// Package interceptors holds the gRPC server interceptors the options-chain
// server is assembled from.
package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/Keksclan/optionscache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errInternal = status.Error(codes.Internal, "internal server error")

// RecoveryUnary turns a handler panic into codes.Internal and logs it with
// the stack.
func RecoveryUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = orDefault(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, logger, info.FullMethod, r)
				resp, err = nil, errInternal
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStream is RecoveryUnary for streaming calls.
func RecoveryStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	logger = orDefault(logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ss.Context(), logger, info.FullMethod, r)
				err = errInternal
			}
		}()
		return handler(srv, ss)
	}
}

func logPanic(ctx context.Context, logger *slog.Logger, method string, r any) {
	contextx.Logger(ctx, logger).ErrorContext(ctx, "handler panic",
		"method", method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
