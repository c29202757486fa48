// Package optionscache is a refresh-ahead cache of per-ticker options-chain
// snapshots. A Service answers lookups from the store and refreshes a ticker
// synchronously when nothing is cached for it; a Scheduler refreshes
// registered tickers shortly before their snapshots expire, so most lookups
// never wait on the provider.
package optionscache

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/Keksclan/optionscache/metrics"
	"github.com/Keksclan/optionscache/snapshot"
	"github.com/Keksclan/optionscache/store"
)

// Service is the lookup side of the cache.
type Service struct {
	store     store.SnapshotStore
	refresher *Refresher
	opts      options
}

// NewService creates a Service reading from st and refreshing through r.
// The initial TTL used for staleness is the one r writes with.
func NewService(st store.SnapshotStore, r *Refresher, opts ...Option) *Service {
	return &Service{store: st, refresher: r, opts: newOptions(opts)}
}

// GetOptionsChain returns every cached expiration of ticker with the
// staleness of the oldest, rounded up to whole seconds. When nothing is
// cached it runs a refresh and returns its result with a delay of 0.
//
// A key that expires between the scan and the read is left out of the
// result.
func (s *Service) GetOptionsChain(ctx context.Context, ticker string) (*Chain, error) {
	t, err := snapshot.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	keys, err := s.store.ScanTicker(ctx, t)
	if err != nil {
		s.opts.metrics.ObserveLookup(metrics.LookupError)
		return nil, fmt.Errorf("optionscache: lookup %s: %w", t, err)
	}

	if len(keys) == 0 {
		s.opts.metrics.ObserveLookup(metrics.LookupMiss)
		s.opts.logger.DebugContext(ctx, "cache miss, refreshing", "ticker", t)
		return s.refresher.refresh(ctx, t, metrics.TriggerLookup)
	}

	ttl := s.refresher.InitialTTL()
	chain := &Chain{Ticker: t, Expirations: make([]Expiration, 0, len(keys))}
	var maxStale float64
	for _, k := range keys {
		rem, ok, err := s.store.RemainingTTL(ctx, k)
		if err != nil {
			s.opts.metrics.ObserveLookup(metrics.LookupError)
			return nil, fmt.Errorf("optionscache: lookup %s: %w", k, err)
		}
		// An absent or non-positive remaining TTL counts as fresh.
		if ok && rem > 0 {
			maxStale = max(maxStale, (ttl - rem).Seconds())
		}

		snap, found, err := s.store.Get(ctx, k)
		if err != nil {
			s.opts.metrics.ObserveLookup(metrics.LookupError)
			return nil, fmt.Errorf("optionscache: lookup %s: %w", k, err)
		}
		if !found {
			continue
		}
		chain.Expirations = append(chain.Expirations, Expiration{Date: k.Expiration, CallOptions: snap.Contracts})
	}
	sortExpirations(chain.Expirations)
	chain.Delay = int(math.Ceil(maxStale))

	s.opts.metrics.ObserveLookup(metrics.LookupHit)
	s.opts.metrics.ObserveDelay(chain.Delay)
	return chain, nil
}

// ListExpirations returns the cached expiration dates of ticker in ascending
// order. It never refreshes; an uncached ticker yields an empty list.
func (s *Service) ListExpirations(ctx context.Context, ticker string) ([]string, error) {
	t, err := snapshot.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}
	keys, err := s.store.ScanTicker(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("optionscache: list %s: %w", t, err)
	}
	dates := make([]string, len(keys))
	for i, k := range keys {
		dates[i] = k.Expiration
	}
	slices.Sort(dates)
	return dates, nil
}
