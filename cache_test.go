package optionscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Keksclan/optionscache/provider"
	"github.com/Keksclan/optionscache/snapshot"
	"github.com/Keksclan/optionscache/store"
)

const (
	jan = "2025-01-17"
	feb = "2025-02-21"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider serves scripted chains per ticker and counts fetches.
type fakeProvider struct {
	mu     sync.Mutex
	chains map[string][]provider.Expiration
	errs   map[string]error
	calls  map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		chains: make(map[string][]provider.Expiration),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (p *fakeProvider) set(ticker string, dates ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var chain []provider.Expiration
	for i, d := range dates {
		chain = append(chain, provider.Expiration{
			Date:        d,
			CallOptions: []snapshot.ContractRecord{{"strike": float64(100 + i), "stock_price": 182.5}},
		})
	}
	p.chains[ticker] = chain
	delete(p.errs, ticker)
}

func (p *fakeProvider) fail(ticker string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[ticker] = err
}

func (p *fakeProvider) count(ticker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ticker]
}

func (p *fakeProvider) FetchChain(_ context.Context, ticker string) ([]provider.Expiration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ticker]++
	if err := p.errs[ticker]; err != nil {
		return nil, err
	}
	return p.chains[ticker], nil
}

type harness struct {
	clock     *fakeClock
	store     *store.Memory
	provider  *fakeProvider
	refresher *Refresher
	service   *Service
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := &fakeClock{now: time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)}
	m, err := store.NewMemory(store.MemoryConfig{MaxEntries: 1000, Now: clk.Now})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	p := newFakeProvider()
	opts = append([]Option{WithInitialTTL(60 * time.Second), WithClock(clk.Now)}, opts...)
	r := NewRefresher(m, m, p, opts...)
	return &harness{
		clock:     clk,
		store:     m,
		provider:  p,
		refresher: r,
		service:   NewService(m, r, opts...),
		scheduler: NewScheduler(m, r, opts...),
	}
}

func TestGetOptionsChain_MissRefreshesOnce(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan, feb)

	chain, err := h.service.GetOptionsChain(t.Context(), "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if n := h.provider.count("AAPL"); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
	if chain.Delay != 0 {
		t.Fatalf("expected delay 0, got %d", chain.Delay)
	}
	if got := chain.Dates(); !slices.Equal(got, []string{jan, feb}) {
		t.Fatalf("unexpected expirations: %v", got)
	}

	// The second lookup is served from the store.
	if _, err := h.service.GetOptionsChain(t.Context(), "AAPL"); err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if n := h.provider.count("AAPL"); n != 1 {
		t.Fatalf("expected no further fetch, got %d", n)
	}
}

func TestGetOptionsChain_DelayIsElapsedSeconds(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)

	if _, err := h.refresher.Refresh(t.Context(), "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	h.clock.Advance(30 * time.Second)

	chain, err := h.service.GetOptionsChain(t.Context(), "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if chain.Delay != 30 {
		t.Fatalf("expected delay 30, got %d", chain.Delay)
	}
}

func TestGetOptionsChain_DelayRoundsUp(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)

	if _, err := h.refresher.Refresh(t.Context(), "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	h.clock.Advance(12*time.Second + 300*time.Millisecond)

	chain, err := h.service.GetOptionsChain(t.Context(), "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if chain.Delay != 13 {
		t.Fatalf("expected delay 13, got %d", chain.Delay)
	}
}

func TestScenario_AAPL(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.provider.set("AAPL", jan, feb)

	// t=0
	if _, err := h.refresher.Refresh(ctx, "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// t=40
	h.clock.Advance(40 * time.Second)
	chain, err := h.service.GetOptionsChain(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if chain.Delay != 40 {
		t.Fatalf("t=40: expected delay 40, got %d", chain.Delay)
	}
	if got := chain.Dates(); !slices.Equal(got, []string{jan, feb}) {
		t.Fatalf("t=40: unexpected expirations %v", got)
	}
	dates, err := h.service.ListExpirations(ctx, "AAPL")
	if err != nil {
		t.Fatalf("ListExpirations: %v", err)
	}
	if !slices.Equal(dates, []string{jan, feb}) {
		t.Fatalf("t=40: ListExpirations = %v", dates)
	}

	// t=61: both snapshots have expired.
	h.clock.Advance(21 * time.Second)
	chain, err = h.service.GetOptionsChain(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if n := h.provider.count("AAPL"); n != 2 {
		t.Fatalf("t=61: expected a second fetch, got %d fetches", n)
	}
	if chain.Delay != 0 {
		t.Fatalf("t=61: expected delay 0, got %d", chain.Delay)
	}
	if got := chain.Dates(); !slices.Equal(got, []string{jan, feb}) {
		t.Fatalf("t=61: unexpected expirations %v", got)
	}
}

func TestGetOptionsChain_OverlapKeepsOlderExpiration(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	h.provider.set("AAPL", jan, feb)
	if _, err := h.refresher.Refresh(ctx, "AAPL"); err != nil {
		t.Fatalf("Refresh t0: %v", err)
	}

	h.clock.Advance(30 * time.Second)
	h.provider.set("AAPL", jan)
	if _, err := h.refresher.Refresh(ctx, "AAPL"); err != nil {
		t.Fatalf("Refresh t0+30: %v", err)
	}

	h.clock.Advance(time.Second)
	chain, err := h.service.GetOptionsChain(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if got := chain.Dates(); !slices.Equal(got, []string{jan, feb}) {
		t.Fatalf("expected both expirations, got %v", got)
	}
	// The February snapshot is from the first batch.
	if chain.Delay != 31 {
		t.Fatalf("expected delay 31, got %d", chain.Delay)
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	h.provider.set("AAPL", jan, feb)

	if _, err := h.refresher.Refresh(ctx, "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before, _ := h.service.ListExpirations(ctx, "AAPL")

	h.clock.Advance(25 * time.Second)
	if _, err := h.refresher.Refresh(ctx, "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	after, _ := h.service.ListExpirations(ctx, "AAPL")
	if !slices.Equal(before, after) {
		t.Fatalf("key set changed: %v -> %v", before, after)
	}

	chain, err := h.service.GetOptionsChain(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if chain.Delay != 0 {
		t.Fatalf("expected staleness reset to 0, got %d", chain.Delay)
	}
}

func TestRefresh_SetsHorizon(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)
	start := h.clock.Now()

	if _, err := h.refresher.Refresh(t.Context(), "aapl"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got, ok, err := h.store.Horizon(t.Context(), "AAPL")
	if err != nil || !ok {
		t.Fatalf("Horizon: %v, %v", ok, err)
	}
	if want := start.Add(60 * time.Second); !got.Equal(want) {
		t.Fatalf("horizon = %v, want %v", got, want)
	}
}

func TestRefresh_EmptyChainCompletes(t *testing.T) {
	h := newHarness(t)
	h.provider.set("ZZZZ")

	chain, err := h.service.GetOptionsChain(t.Context(), "ZZZZ")
	if err != nil {
		t.Fatalf("expected empty result, got %v", err)
	}
	if !chain.Empty() || chain.Delay != 0 {
		t.Fatalf("expected empty chain with delay 0, got %+v", chain)
	}
	if _, ok, _ := h.store.Horizon(t.Context(), "ZZZZ"); !ok {
		t.Fatal("expected the completed refresh to register the ticker")
	}
}

func TestRefresh_ProviderFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	upstream := errors.New("upstream timeout")
	h.provider.fail("AAPL", upstream)

	_, err := h.service.GetOptionsChain(t.Context(), "AAPL")
	if !errors.Is(err, ErrProviderFetch) {
		t.Fatalf("expected ErrProviderFetch, got %v", err)
	}
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream cause to be kept, got %v", err)
	}
	if keys, _ := h.store.ScanTicker(t.Context(), "AAPL"); len(keys) != 0 {
		t.Fatalf("expected no snapshots, got %v", keys)
	}
	if n := h.provider.count("AAPL"); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestRefresh_MalformedChainWritesNothing(t *testing.T) {
	for name, dates := range map[string][]string{
		"blank":     {jan, ""},
		"not iso":   {jan, "01/17/2025"},
		"duplicate": {jan, feb, jan},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.provider.set("AAPL", dates...)

			if _, err := h.refresher.Refresh(t.Context(), "AAPL"); !errors.Is(err, ErrProviderFetch) {
				t.Fatalf("expected ErrProviderFetch, got %v", err)
			}
			if keys, _ := h.store.ScanTicker(t.Context(), "AAPL"); len(keys) != 0 {
				t.Fatalf("expected no snapshots, got %v", keys)
			}
			if _, ok, _ := h.store.Horizon(t.Context(), "AAPL"); ok {
				t.Fatal("expected ticker to stay unregistered")
			}
		})
	}
}

func TestStoreUnavailablePropagates(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)
	_ = h.store.Close()

	if _, err := h.service.GetOptionsChain(t.Context(), "AAPL"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("GetOptionsChain: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := h.service.ListExpirations(t.Context(), "AAPL"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ListExpirations: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := h.refresher.Refresh(t.Context(), "AAPL"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Refresh: expected ErrStoreUnavailable, got %v", err)
	}
}

// failingPuts lets the first failOn-1 puts through and fails the rest.
type failingPuts struct {
	store.SnapshotStore
	mu     sync.Mutex
	puts   int
	failOn int
}

func (f *failingPuts) Put(ctx context.Context, s snapshot.Snapshot, ttl time.Duration) error {
	f.mu.Lock()
	f.puts++
	n := f.puts
	f.mu.Unlock()
	if n >= f.failOn {
		return fmt.Errorf("%w: put %s: connection reset", store.ErrUnavailable, s.Key)
	}
	return f.SnapshotStore.Put(ctx, s, ttl)
}

func TestRefresh_StoreFailureMidBatch(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)
	if _, err := h.refresher.Refresh(t.Context(), "AAPL"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before, _, _ := h.store.Horizon(t.Context(), "AAPL")

	h.clock.Advance(30 * time.Second)
	h.provider.set("AAPL", jan, feb)
	h.provider.set("MSFT", jan, feb)
	r := NewRefresher(&failingPuts{SnapshotStore: h.store, failOn: 2}, h.store, h.provider,
		WithInitialTTL(60*time.Second), WithClock(h.clock.Now))

	_, err := r.Refresh(t.Context(), "AAPL")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, ErrProviderFetch) {
		t.Fatalf("store failure reported as provider failure: %v", err)
	}

	// The first put landed and restarted its TTL; the second never did.
	if _, ok, _ := h.store.Get(t.Context(), snapshot.ExpirationKey{Ticker: "AAPL", Expiration: jan}); !ok {
		t.Fatal("expected the first expiration to be readable")
	}
	if rem, ok, _ := h.store.RemainingTTL(t.Context(), snapshot.ExpirationKey{Ticker: "AAPL", Expiration: jan}); !ok || rem != 60*time.Second {
		t.Fatalf("expected the first expiration rewritten with a full TTL, got %v, %v", rem, ok)
	}
	if _, ok, _ := h.store.Get(t.Context(), snapshot.ExpirationKey{Ticker: "AAPL", Expiration: feb}); ok {
		t.Fatal("expected the second expiration to be absent")
	}
	after, ok, _ := h.store.Horizon(t.Context(), "AAPL")
	if !ok || !after.Equal(before) {
		t.Fatalf("horizon changed: before %v, after %v", before, after)
	}

	// A ticker that was never refreshed stays unregistered.
	r = NewRefresher(&failingPuts{SnapshotStore: h.store, failOn: 2}, h.store, h.provider,
		WithInitialTTL(60*time.Second), WithClock(h.clock.Now))
	if _, err := r.Refresh(t.Context(), "MSFT"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, ok, _ := h.store.Get(t.Context(), snapshot.ExpirationKey{Ticker: "MSFT", Expiration: jan}); !ok {
		t.Fatal("expected MSFT's first expiration to be readable")
	}
	if _, ok, _ := h.store.Horizon(t.Context(), "MSFT"); ok {
		t.Fatal("expected MSFT to stay unregistered")
	}
}

func TestInvalidTicker(t *testing.T) {
	h := newHarness(t)

	if _, err := h.service.GetOptionsChain(t.Context(), "  "); !errors.Is(err, ErrInvalidTicker) {
		t.Fatalf("expected ErrInvalidTicker, got %v", err)
	}
	if _, err := h.service.ListExpirations(t.Context(), ""); !errors.Is(err, ErrInvalidTicker) {
		t.Fatalf("expected ErrInvalidTicker, got %v", err)
	}
	if n := h.provider.count(""); n != 0 {
		t.Fatalf("provider must not be called, got %d", n)
	}

	// ':' separates ticker and date in store keys.
	if _, err := h.service.GetOptionsChain(t.Context(), "brk:b"); !errors.Is(err, ErrInvalidTicker) {
		t.Fatalf("expected ErrInvalidTicker, got %v", err)
	}
	if n := h.provider.count("BRK:B"); n != 0 {
		t.Fatalf("provider must not be called, got %d", n)
	}
}

func TestGetOptionsChain_NormalizesTicker(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)

	if _, err := h.service.GetOptionsChain(t.Context(), " aapl "); err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	chain, err := h.service.GetOptionsChain(t.Context(), "Aapl")
	if err != nil {
		t.Fatalf("GetOptionsChain: %v", err)
	}
	if chain.Ticker != "AAPL" || h.provider.count("AAPL") != 1 {
		t.Fatalf("expected both spellings to share the AAPL entry, fetches=%d", h.provider.count("AAPL"))
	}
}

func TestListExpirations_UncachedIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.provider.set("AAPL", jan)

	dates, err := h.service.ListExpirations(t.Context(), "AAPL")
	if err != nil {
		t.Fatalf("ListExpirations: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("expected no dates, got %v", dates)
	}
	if n := h.provider.count("AAPL"); n != 0 {
		t.Fatalf("ListExpirations must not refresh, got %d fetches", n)
	}
}

func TestChain_JSON(t *testing.T) {
	c := Chain{
		Ticker: "AAPL",
		Expirations: []Expiration{
			{Date: jan, CallOptions: []snapshot.ContractRecord{{"strike": 150.0}}},
			{Date: feb},
		},
		Delay: 40,
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"2025-01-17":{"call_options":[{"strike":150}]},"2025-02-21":{"call_options":[]},"delay":40}`
	if string(data) != want {
		t.Fatalf("got  %s\nwant %s", data, want)
	}

	var back Chain
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Delay != 40 || !slices.Equal(back.Dates(), []string{jan, feb}) {
		t.Fatalf("unexpected round trip: %+v", back)
	}
}

func TestChain_EmptyJSON(t *testing.T) {
	data, err := json.Marshal(&Chain{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"delay":0}` {
		t.Fatalf("got %s", data)
	}
}
