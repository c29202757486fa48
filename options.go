package optionscache

import (
	"log/slog"
	"time"

	"github.com/Keksclan/optionscache/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInitialTTL is the snapshot lifetime used when none is configured.
const DefaultInitialTTL = 60 * time.Second

const tracerName = "github.com/Keksclan/optionscache"

// Option configures a Refresher, Service or Scheduler.
type Option func(*options)

type options struct {
	initialTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
	metrics    *metrics.Collectors
	tracer     trace.Tracer
	coalesce   bool
}

func newOptions(opts []Option) options {
	o := options{
		initialTTL: DefaultInitialTTL,
		logger:     slog.Default(),
		now:        time.Now,
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithInitialTTL sets the lifetime of every snapshot written by a refresh.
// Non-positive values are ignored.
func WithInitialTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.initialTTL = ttl
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now. Tests use it together with a store built on
// the same clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records lookups, refreshes and scheduler ticks.
func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTracerProvider sets the provider the refresh spans are created from.
// Without it the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithRefreshCoalescing makes concurrent refreshes of the same ticker within
// this process share one provider fetch. Off by default: duplicate fetches
// are tolerated and conflicting writes resolve last-write-wins per key.
// Refreshes issued by other processes are never coalesced.
func WithRefreshCoalescing() Option {
	return func(o *options) {
		o.coalesce = true
	}
}
