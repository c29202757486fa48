package interceptors

import (
	"context"

	"github.com/Keksclan/optionscache/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

func exemptSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}

// RateLimitUnary rejects calls with codes.ResourceExhausted once l is
// exhausted. Calls to the exempt full method names, such as health checks,
// are never limited and do not consume tokens.
func RateLimitUnary(l *ratelimit.Limiter, exempt ...string) grpc.UnaryServerInterceptor {
	skip := exemptSet(exempt)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; !ok && !l.Allow() {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}

// RateLimitStream applies the same limit when a stream is opened.
func RateLimitStream(l *ratelimit.Limiter, exempt ...string) grpc.StreamServerInterceptor {
	skip := exemptSet(exempt)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := skip[info.FullMethod]; !ok && !l.Allow() {
			return errRateLimited
		}
		return handler(srv, ss)
	}
}
