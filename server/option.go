package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/optionscache/interceptors"
	"github.com/Keksclan/optionscache/internal/core"
	"github.com/Keksclan/optionscache/ratelimit"
	"github.com/Keksclan/optionscache/tracing"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Interceptor positions. Lower runs first, so recovery wraps everything and
// the rate limit is checked after the call has been logged and traced.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderLogging   = 400
	OrderRateLimit = 500
	OrderCustom    = 1000
)

// Health methods are exempt from the rate limit.
var healthMethods = []string{
	"/" + healthpb.Health_ServiceDesc.ServiceName + "/Check",
	"/" + healthpb.Health_ServiceDesc.ServiceName + "/Watch",
}

type config struct {
	middlewares     core.MiddlewareBuilder
	customCount     int
	shutdownTimeout time.Duration
}

// Option configures a Server. The order options are passed in does not
// affect the order interceptors run in.
type Option func(*config)

// WithRecovery converts handler panics into codes.Internal.
func WithRecovery(logger *slog.Logger) Option {
	return func(c *config) {
		c.middlewares.Add("recovery", OrderRecovery, interceptors.RecoveryUnary(logger), interceptors.RecoveryStream(logger))
	}
}

// WithRequestID tags every call with a request ID.
func WithRequestID() Option {
	return func(c *config) {
		c.middlewares.Add("requestid", OrderRequestID, interceptors.RequestIDUnary(), interceptors.RequestIDStream())
	}
}

// WithTracing starts a server span per call.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		c.middlewares.Add("tracing", OrderTracing, tracing.UnaryServerInterceptor(cfg), tracing.StreamServerInterceptor(cfg))
	}
}

// WithLogging logs one line per call.
func WithLogging(logger *slog.Logger) Option {
	return func(c *config) {
		c.middlewares.Add("logging", OrderLogging, interceptors.LoggingUnary(logger), interceptors.LoggingStream(logger))
	}
}

// WithRateLimit limits the server as a whole to rps calls per second with
// the given burst. Health checks are not limited. rps ≤ 0 leaves the server
// unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *config) {
		if rps <= 0 {
			return
		}
		l := ratelimit.NewLimiter(rps, burst)
		c.middlewares.Add("ratelimit", OrderRateLimit,
			interceptors.RateLimitUnary(l, healthMethods...),
			interceptors.RateLimitStream(l, healthMethods...),
		)
	}
}

// WithUnaryInterceptor appends an interceptor after the built-in ones.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) {
		c.customCount++
		c.middlewares.Add(fmt.Sprintf("custom-%d", c.customCount), OrderCustom, i, nil)
	}
}

// WithShutdownTimeout bounds how long Serve waits for in-flight calls once
// its context is done before closing connections. Defaults to 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}
