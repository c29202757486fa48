package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/optionscache/snapshot"
	"github.com/dgraph-io/ristretto/v2"
)

var (
	errClosed  = errors.New("memory store closed")
	errDropped = errors.New("memory store dropped write")
)

// MemoryConfig configures an in-process backend.
type MemoryConfig struct {
	// MaxEntries bounds the number of snapshots held (each entry costs 1).
	MaxEntries int64

	// Codec serializes contract lists. Defaults to snapshot.JSON.
	Codec snapshot.Codec

	// Now is the clock used for logical expiry. Defaults to time.Now.
	Now func() time.Time
}

// Memory is an in-process Backend. Snapshots live in ristretto, which evicts
// them physically once their TTL passes; each entry also records a logical
// expiry against the configured clock so an entry past it is reported absent
// even while ristretto still holds it.
type Memory struct {
	rc    *ristretto.Cache[string, memoryEntry]
	codec snapshot.Codec
	now   func() time.Time

	mu       sync.Mutex
	closed   bool
	index    map[string]map[string]struct{} // ticker -> expirations
	horizons map[string]time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an in-process backend.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100_000
	}
	if cfg.Codec == nil {
		cfg.Codec = snapshot.JSON
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, memoryEntry]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,

		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: memory: %w", err)
	}
	return &Memory{
		rc:       rc,
		codec:    cfg.Codec,
		now:      cfg.Now,
		index:    make(map[string]map[string]struct{}),
		horizons: make(map[string]time.Time),
	}, nil
}

func (m *Memory) alive(e memoryEntry) bool {
	return e.expiresAt.IsZero() || m.now().Before(e.expiresAt)
}

// lookup returns the live entry for key. It does not touch m.mu.
func (m *Memory) lookup(key snapshot.ExpirationKey) (memoryEntry, bool) {
	e, ok := m.rc.Get(snapshotKey(key))
	if !ok || !m.alive(e) {
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}
	return nil
}

// Get retrieves and decodes a snapshot.
func (m *Memory) Get(_ context.Context, key snapshot.ExpirationKey) (snapshot.Snapshot, bool, error) {
	if err := m.checkOpen(); err != nil {
		return snapshot.Snapshot{}, false, err
	}
	e, ok := m.lookup(key)
	if !ok {
		return snapshot.Snapshot{}, false, nil
	}
	contracts, err := m.codec.Unmarshal(e.data)
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("store: %s: %w", key, err)
	}
	return snapshot.Snapshot{Key: key, Contracts: contracts}, true, nil
}

// Put stores snap with the given TTL. A non-positive TTL stores the entry
// without expiry.
func (m *Memory) Put(_ context.Context, snap snapshot.Snapshot, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	data, err := m.codec.Marshal(snap.Contracts)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", snap.Key, err)
	}

	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	} else {
		ttl = 0
	}
	// A rejected set is a write the store could not take right now, the
	// same as an unreachable Redis.
	if !m.rc.SetWithTTL(snapshotKey(snap.Key), e, 1, ttl) {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, snap.Key, errDropped)
	}
	m.rc.Wait()

	m.mu.Lock()
	exps, ok := m.index[snap.Key.Ticker]
	if !ok {
		exps = make(map[string]struct{})
		m.index[snap.Key.Ticker] = exps
	}
	exps[snap.Key.Expiration] = struct{}{}
	m.mu.Unlock()
	return nil
}

// RemainingTTL returns the logical lifetime left for key.
func (m *Memory) RemainingTTL(_ context.Context, key snapshot.ExpirationKey) (time.Duration, bool, error) {
	if err := m.checkOpen(); err != nil {
		return 0, false, err
	}
	e, ok := m.lookup(key)
	if !ok || e.expiresAt.IsZero() {
		return 0, false, nil
	}
	rem := e.expiresAt.Sub(m.now())
	if rem <= 0 {
		return 0, false, nil
	}
	return rem, true, nil
}

// ScanTicker returns the live keys for ticker, sorted by expiration. Index
// entries whose snapshot has expired are pruned as a side effect.
func (m *Memory) ScanTicker(_ context.Context, ticker string) ([]snapshot.ExpirationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}

	var keys []snapshot.ExpirationKey
	for exp := range m.index[ticker] {
		k := snapshot.ExpirationKey{Ticker: ticker, Expiration: exp}
		if _, ok := m.lookup(k); !ok {
			delete(m.index[ticker], exp)
			continue
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b snapshot.ExpirationKey) int {
		return strings.Compare(a.Expiration, b.Expiration)
	})
	return keys, nil
}

// Horizon returns the stored horizon for ticker.
func (m *Memory) Horizon(_ context.Context, ticker string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}
	h, ok := m.horizons[ticker]
	return h, ok, nil
}

// SetHorizon overwrites the horizon for ticker.
func (m *Memory) SetHorizon(_ context.Context, ticker string, horizon time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}
	m.horizons[ticker] = horizon
	return nil
}

// Horizons returns every registry entry, ordered by ticker.
func (m *Memory) Horizons(_ context.Context) ([]HorizonEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}
	out := make([]HorizonEntry, 0, len(m.horizons))
	for t, h := range m.horizons {
		out = append(out, HorizonEntry{Ticker: t, Horizon: h})
	}
	slices.SortFunc(out, func(a, b HorizonEntry) int { return strings.Compare(a.Ticker, b.Ticker) })
	return out, nil
}

// Ping reports ErrUnavailable once the store is closed.
func (m *Memory) Ping(_ context.Context) error {
	return m.checkOpen()
}

// Close releases the ristretto cache. Later calls fail with ErrUnavailable.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.rc.Close()
	return nil
}
