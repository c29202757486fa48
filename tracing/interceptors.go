// Package tracing creates OpenTelemetry server spans for gRPC calls and sets
// up the tracer provider the process exports with.
package tracing

import (
	"context"
	"strings"

	"github.com/Keksclan/optionscache/contextx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	grpcStatus "google.golang.org/grpc/status"
)

const instrumentationName = "github.com/Keksclan/optionscache/tracing"

// Config selects where spans go. A zero Config uses the global tracer
// provider and propagator.
type Config struct {
	TracerProvider trace.TracerProvider
	Propagators    propagation.TextMapPropagator
}

func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

func (c *Config) propagators() propagation.TextMapPropagator {
	if c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

// UnaryServerInterceptor starts a server span per unary call. A nil cfg
// disables tracing.
func UnaryServerInterceptor(cfg *Config) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if cfg == nil {
			return handler(ctx, req)
		}
		ctx, span := cfg.start(ctx, info.FullMethod)
		defer span.End()

		resp, err := handler(ctx, req)
		finish(span, err)
		return resp, err
	}
}

// StreamServerInterceptor starts a server span per streaming call, such as a
// health Watch. A nil cfg disables tracing.
func StreamServerInterceptor(cfg *Config) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg == nil {
			return handler(srv, ss)
		}
		ctx, span := cfg.start(ss.Context(), info.FullMethod)
		defer span.End()

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		finish(span, err)
		return err
	}
}

// start continues the caller's trace, if the incoming metadata carries one,
// and tags the span with the call's service, method and request ID.
func (c *Config) start(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	ctx = c.propagators().Extract(ctx, mdCarrier(md))

	service, method := splitFullMethod(fullMethod)
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", method),
	}
	if id := contextx.RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request.id", id))
	}
	return c.tracer().Start(ctx, fullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	st, _ := grpcStatus.FromError(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, st.Message())
}

// mdCarrier lets the propagator read gRPC metadata.
type mdCarrier metadata.MD

func (c mdCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c mdCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c mdCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func splitFullMethod(fullMethod string) (service, method string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return fullMethod, ""
	}
	return service, method
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }
