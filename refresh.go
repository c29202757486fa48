package optionscache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Keksclan/optionscache/metrics"
	"github.com/Keksclan/optionscache/provider"
	"github.com/Keksclan/optionscache/snapshot"
	"github.com/Keksclan/optionscache/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Refresher pulls a full chain from the provider and writes it to the store:
// one snapshot per expiration with the initial TTL, then the ticker's
// horizon. It holds no locks; concurrent refreshes of one ticker each fetch
// and the store resolves their writes last-write-wins per key, unless
// WithRefreshCoalescing is set.
type Refresher struct {
	store    store.SnapshotStore
	registry store.TickerRegistry
	provider provider.DataProvider
	opts     options
	flights  *singleflight.Group
}

// NewRefresher creates a Refresher.
func NewRefresher(st store.SnapshotStore, reg store.TickerRegistry, p provider.DataProvider, opts ...Option) *Refresher {
	r := &Refresher{
		store:    st,
		registry: reg,
		provider: p,
		opts:     newOptions(opts),
	}
	if r.opts.coalesce {
		r.flights = new(singleflight.Group)
	}
	return r
}

// InitialTTL returns the lifetime given to every snapshot written.
func (r *Refresher) InitialTTL() time.Duration {
	return r.opts.initialTTL
}

// Refresh fetches and stores the chain of ticker and returns it with a delay
// of 0. The ticker is normalized first.
//
// A provider error or malformed chain returns ErrProviderFetch before any
// write. A store failure returns the store error; snapshots written before it
// stay in place. An empty chain writes no snapshots but still sets the
// horizon.
func (r *Refresher) Refresh(ctx context.Context, ticker string) (*Chain, error) {
	t, err := snapshot.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	return r.refresh(ctx, t, metrics.TriggerManual)
}

func (r *Refresher) refresh(ctx context.Context, ticker, trigger string) (*Chain, error) {
	if r.flights == nil {
		return r.do(ctx, ticker, trigger)
	}
	// Callers sharing a flight share the returned chain; it must not be
	// modified.
	v, err, shared := r.flights.Do(ticker, func() (any, error) {
		return r.do(ctx, ticker, trigger)
	})
	if shared {
		r.opts.logger.DebugContext(ctx, "refresh coalesced", "ticker", ticker, "trigger", trigger)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Chain), nil
}

func (r *Refresher) do(ctx context.Context, ticker, trigger string) (chain *Chain, err error) {
	ctx, span := r.opts.tracer.Start(ctx, "optionscache.Refresh",
		trace.WithAttributes(
			attribute.String("optionscache.ticker", ticker),
			attribute.String("optionscache.trigger", trigger),
		),
	)
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		switch {
		case errors.Is(err, ErrProviderFetch):
			outcome = metrics.OutcomeProviderError
		case err != nil:
			outcome = metrics.OutcomeStoreError
		}
		r.opts.metrics.ObserveRefresh(trigger, outcome, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	exps, err := r.provider.FetchChain(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFetch, ticker, err)
	}
	if err := validateChain(exps); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFetch, ticker, err)
	}

	ttl := r.opts.initialTTL
	chain = &Chain{Ticker: ticker, Expirations: make([]Expiration, 0, len(exps))}
	for _, e := range exps {
		calls := e.CallOptions
		if calls == nil {
			calls = []snapshot.ContractRecord{}
		}
		snap := snapshot.Snapshot{
			Key:       snapshot.ExpirationKey{Ticker: ticker, Expiration: e.Date},
			Contracts: calls,
		}
		if err := r.store.Put(ctx, snap, ttl); err != nil {
			return nil, fmt.Errorf("optionscache: refresh %s: %w", ticker, err)
		}
		chain.Expirations = append(chain.Expirations, Expiration{Date: e.Date, CallOptions: calls})
	}

	horizon := r.opts.now().Add(ttl)
	if err := r.registry.SetHorizon(ctx, ticker, horizon); err != nil {
		return nil, fmt.Errorf("optionscache: refresh %s: %w", ticker, err)
	}

	span.SetAttributes(attribute.Int("optionscache.expirations", len(chain.Expirations)))
	r.opts.logger.InfoContext(ctx, "chain refreshed",
		"ticker", ticker,
		"trigger", trigger,
		"expirations", len(chain.Expirations),
		"horizon", horizon,
	)
	return chain, nil
}

// validateChain rejects blank, non-ISO and repeated expiration dates.
func validateChain(exps []provider.Expiration) error {
	seen := make(map[string]struct{}, len(exps))
	for _, e := range exps {
		if !snapshot.ValidExpiration(e.Date) {
			return fmt.Errorf("malformed expiration %q", e.Date)
		}
		if _, dup := seen[e.Date]; dup {
			return fmt.Errorf("duplicate expiration %q", e.Date)
		}
		seen[e.Date] = struct{}{}
	}
	return nil
}

func sortExpirations(exps []Expiration) {
	slices.SortFunc(exps, func(a, b Expiration) int { return strings.Compare(a.Date, b.Date) })
}
