// Package metrics holds the Prometheus collectors for the cache core. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "optionscache"

// Lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Refresh triggers and outcomes.
const (
	TriggerLookup    = "lookup"
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"

	OutcomeOK            = "ok"
	OutcomeProviderError = "provider_error"
	OutcomeStoreError    = "store_error"
)

// Collectors groups every metric the cache exports.
type Collectors struct {
	lookups         *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	delay           prometheus.Histogram
	tickTickers     *prometheus.CounterVec
	registered      prometheus.Gauge
	breakerState    prometheus.Gauge
}

// New creates the collectors and registers them with reg. It panics if a
// collector is already registered, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Options-chain lookups by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Chain refreshes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a refresh including the provider fetch.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"trigger"}),
		delay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reported_delay_seconds",
			Help:      "Delay reported to callers on cache hits.",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 50, 60, 120, 300},
		}),
		tickTickers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tickers_total",
			Help:      "Tickers evaluated by the scheduler by decision.",
		}, []string{"decision"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "registered_tickers",
			Help:      "Tickers in the registry at the last tick.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "breaker_state",
			Help:      "Provider circuit state: 0 closed, 1 open, 2 half-open.",
		}),
	}
	reg.MustRegister(c.lookups, c.refreshes, c.refreshDuration, c.delay, c.tickTickers, c.registered, c.breakerState)
	return c
}

// ObserveLookup counts one lookup.
func (c *Collectors) ObserveLookup(result string) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(result).Inc()
}

// ObserveDelay records the delay returned on a hit.
func (c *Collectors) ObserveDelay(seconds int) {
	if c == nil {
		return
	}
	c.delay.Observe(float64(seconds))
}

// ObserveRefresh counts one refresh and records how long it took.
func (c *Collectors) ObserveRefresh(trigger, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(trigger, outcome).Inc()
	c.refreshDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// ObserveTick records the registry size and the decisions of one scheduler
// tick. The decisions need not add up to registered when a tick is cut
// short.
func (c *Collectors) ObserveTick(registered, refreshed, skipped, failed int) {
	if c == nil {
		return
	}
	c.registered.Set(float64(registered))
	c.tickTickers.WithLabelValues("refreshed").Add(float64(refreshed))
	c.tickTickers.WithLabelValues("skipped").Add(float64(skipped))
	c.tickTickers.WithLabelValues("failed").Add(float64(failed))
}

// SetBreakerState exports the provider circuit state as its numeric value.
func (c *Collectors) SetBreakerState(state int) {
	if c == nil {
		return
	}
	c.breakerState.Set(float64(state))
}
