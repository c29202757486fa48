package optionscache

import (
	"context"
	"time"

	"github.com/Keksclan/optionscache/metrics"
	"github.com/Keksclan/optionscache/store"
)

const (
	// RefreshInterval is the fixed period between scheduler ticks.
	RefreshInterval = 10 * time.Second

	// RefreshAhead is how close to its horizon a ticker must be for a tick
	// to refresh it.
	RefreshAhead = 10 * time.Second
)

// TickReport lists what one tick did with each registered ticker.
type TickReport struct {
	Refreshed []string
	Skipped   []string
	Failed    map[string]error
}

// Scheduler refreshes registered tickers before their snapshots expire. A
// ticker enters the registry with its first successful refresh and is never
// removed; one whose first refresh fails stays unknown to the scheduler.
type Scheduler struct {
	registry  store.TickerRegistry
	refresher *Refresher
	opts      options
}

// NewScheduler creates a Scheduler over reg that refreshes through r.
func NewScheduler(reg store.TickerRegistry, r *Refresher, opts ...Option) *Scheduler {
	return &Scheduler{registry: reg, refresher: r, opts: newOptions(opts)}
}

// Run ticks every RefreshInterval until ctx is done. The first tick happens
// one interval after Run is called.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(RefreshInterval)
	defer t.Stop()

	s.opts.logger.InfoContext(ctx, "refresh scheduler started", "interval", RefreshInterval, "ahead", RefreshAhead)
	for {
		select {
		case <-ctx.Done():
			s.opts.logger.InfoContext(ctx, "refresh scheduler stopped")
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every registered ticker once, in registry order, and
// refreshes those whose horizon is less than RefreshAhead away. Refreshes
// run one after another; a failure is recorded and the tick moves on. If
// the registry cannot be read the tick does nothing.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	report := TickReport{Failed: make(map[string]error)}

	entries, err := s.registry.Horizons(ctx)
	if err != nil {
		s.opts.logger.ErrorContext(ctx, "scheduler: read registry", "err", err)
		return report
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		remaining := e.Horizon.Sub(s.opts.now())
		if remaining >= RefreshAhead {
			s.opts.logger.DebugContext(ctx, "ticker fresh", "ticker", e.Ticker, "remaining", remaining)
			report.Skipped = append(report.Skipped, e.Ticker)
			continue
		}

		s.opts.logger.DebugContext(ctx, "ticker due", "ticker", e.Ticker, "remaining", remaining)
		if _, err := s.refresher.refresh(ctx, e.Ticker, metrics.TriggerScheduler); err != nil {
			s.opts.logger.WarnContext(ctx, "scheduled refresh failed", "ticker", e.Ticker, "err", err)
			report.Failed[e.Ticker] = err
			continue
		}
		report.Refreshed = append(report.Refreshed, e.Ticker)
	}

	s.opts.metrics.ObserveTick(len(entries), len(report.Refreshed), len(report.Skipped), len(report.Failed))
	return report
}
