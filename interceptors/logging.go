package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keksclan/optionscache/contextx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs one line per call with its status code and duration.
// Server-side failures log at Error, client mistakes at Warn and the rest at
// Info.
func LoggingUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = orDefault(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, logger, info.FullMethod, start, err)
		return resp, err
	}
}

// LoggingStream is LoggingUnary for streaming calls; the duration covers
// the whole stream.
func LoggingStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	logger = orDefault(logger)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(ss.Context(), logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(ctx context.Context, logger *slog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	attrs := []any{
		"method", method,
		"code", code.String(),
		"duration", time.Since(start),
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	contextx.Logger(ctx, logger).Log(ctx, levelFor(code), "rpc", attrs...)
}

func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.Canceled:
		return slog.LevelInfo
	case codes.InvalidArgument, codes.ResourceExhausted, codes.DeadlineExceeded:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
