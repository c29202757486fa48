// Package provider defines the narrow interface through which the cache
// pulls options chains from the external market-data provider, plus an HTTP
// adapter and decorators for pacing and circuit breaking.
package provider

import (
	"context"
	"errors"

	"github.com/Keksclan/optionscache/ratelimit"
	"github.com/Keksclan/optionscache/snapshot"
)

// ErrCircuitOpen is returned by a Guarded provider while it rejects calls.
var ErrCircuitOpen = errors.New("provider: circuit open")

// Expiration is one expiration date of a chain with its call contracts.
type Expiration struct {
	Date        string                    `json:"expiration"`
	CallOptions []snapshot.ContractRecord `json:"call_options"`
}

// DataProvider supplies full options chains, ordered by expiration.
type DataProvider interface {
	FetchChain(ctx context.Context, ticker string) ([]Expiration, error)
}

// Func adapts a function to DataProvider.
type Func func(ctx context.Context, ticker string) ([]Expiration, error)

// FetchChain calls f.
func (f Func) FetchChain(ctx context.Context, ticker string) ([]Expiration, error) {
	return f(ctx, ticker)
}

// RateLimited paces calls to the wrapped provider. Callers block until a
// token is available or their context ends.
func RateLimited(p DataProvider, l *ratelimit.Limiter) DataProvider {
	return Func(func(ctx context.Context, ticker string) ([]Expiration, error) {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
		return p.FetchChain(ctx, ticker)
	})
}
