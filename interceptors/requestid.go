package interceptors

import (
	"context"

	"github.com/Keksclan/optionscache/contextx"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDHeader is the metadata key a caller may set to choose the request
// ID. The ID in use is echoed back in the response header.
const RequestIDHeader = "x-request-id"

// withRequestID stores the caller's request ID, or a fresh one, in ctx.
func withRequestID(ctx context.Context) (context.Context, string) {
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(RequestIDHeader); len(v) > 0 && v[0] != "" {
			id = v[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return contextx.WithRequestID(ctx, id), id
}

// RequestIDUnary makes sure every call carries a request ID.
func RequestIDUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, id := withRequestID(ctx)
		// Fails only outside a real transport, as in direct interceptor calls.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
		return handler(ctx, req)
	}
}

// RequestIDStream is RequestIDUnary for streaming calls.
func RequestIDStream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, id := withRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDHeader, id))
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
