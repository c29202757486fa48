// Package store provides the snapshot store and ticker registry that back
// the options-chain cache, with a Redis implementation and an in-process
// implementation backed by ristretto.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/optionscache/snapshot"
)

// ErrUnavailable wraps every failure to reach the backing store. It is never
// masked as a miss.
var ErrUnavailable = errors.New("store: unavailable")

// SnapshotStore maps an expiration key to a contract list with a per-entry
// time-to-live. Every method is atomic for its single key; there are no
// multi-key transactions.
type SnapshotStore interface {
	// Get returns the snapshot stored under key. The boolean reports a hit.
	Get(ctx context.Context, key snapshot.ExpirationKey) (snapshot.Snapshot, bool, error)

	// Put stores snap under snap.Key, replacing any previous value and
	// resetting its time-to-live to ttl.
	Put(ctx context.Context, snap snapshot.Snapshot, ttl time.Duration) error

	// RemainingTTL returns the lifetime left for key. The boolean is false
	// when the key is absent or carries no expiry.
	RemainingTTL(ctx context.Context, key snapshot.ExpirationKey) (time.Duration, bool, error)

	// ScanTicker returns the keys currently stored for ticker.
	ScanTicker(ctx context.Context, ticker string) ([]snapshot.ExpirationKey, error)
}

// HorizonEntry pairs a ticker with its refresh horizon.
type HorizonEntry struct {
	Ticker  string
	Horizon time.Time
}

// TickerRegistry maps a ticker to the horizon of its latest refresh.
// Entries never expire. Writes are last-write-wins.
type TickerRegistry interface {
	Horizon(ctx context.Context, ticker string) (time.Time, bool, error)
	SetHorizon(ctx context.Context, ticker string, horizon time.Time) error
	Horizons(ctx context.Context) ([]HorizonEntry, error)
}

// Backend is a store handle that serves both roles and owns a connection.
type Backend interface {
	SnapshotStore
	TickerRegistry

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
