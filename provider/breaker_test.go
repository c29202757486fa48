package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream 503")

// scripted returns results from a queue; once drained it keeps succeeding.
type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) FetchChain(_ context.Context, _ string) ([]Expiration, error) {
	s.calls++
	if len(s.errs) == 0 {
		return []Expiration{{Date: "2025-01-17"}}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return nil, err
}

func newTestGuarded(next DataProvider, cfg BreakerConfig) (*Guarded, *time.Time) {
	g := NewGuarded(next, cfg)
	now := time.Now()
	g.nowFunc = func() time.Time { return now }
	return g, &now
}

func fetch(g *Guarded) error {
	_, err := g.FetchChain(context.Background(), "AAPL")
	return err
}

func TestGuarded_ClosedToOpen(t *testing.T) {
	up := &scripted{errs: []error{errUpstream, errUpstream, errUpstream}}
	g, _ := newTestGuarded(up, BreakerConfig{FailureThreshold: 3, Cooldown: 5 * time.Second})

	_ = fetch(g)
	_ = fetch(g)
	if s := g.State(); s != Closed {
		t.Fatalf("expected Closed after 2 failures, got %v", s)
	}

	_ = fetch(g) // 3rd failure => trip
	if s := g.State(); s != Open {
		t.Fatalf("expected Open after 3 failures, got %v", s)
	}
}

func TestGuarded_OpenFailsFastWithoutCallingUpstream(t *testing.T) {
	up := &scripted{errs: []error{errUpstream}}
	g, _ := newTestGuarded(up, BreakerConfig{FailureThreshold: 1, Cooldown: 5 * time.Second})

	_ = fetch(g) // trip
	err := fetch(g)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if up.calls != 1 {
		t.Fatalf("expected upstream called once, got %d", up.calls)
	}
}

func TestGuarded_HalfOpenSuccessCloses(t *testing.T) {
	up := &scripted{errs: []error{errUpstream}}
	g, now := newTestGuarded(up, BreakerConfig{FailureThreshold: 1, Cooldown: 5 * time.Second, Probes: 2})

	_ = fetch(g)
	*now = now.Add(6 * time.Second)

	if s := g.State(); s != HalfOpen {
		t.Fatalf("expected HalfOpen after cooldown, got %v", s)
	}
	if err := fetch(g); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if s := g.State(); s != HalfOpen {
		t.Fatalf("expected still HalfOpen after 1 success, got %v", s)
	}
	if err := fetch(g); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if s := g.State(); s != Closed {
		t.Fatalf("expected Closed after 2 successes, got %v", s)
	}
}

func TestGuarded_HalfOpenFailureReopens(t *testing.T) {
	up := &scripted{errs: []error{errUpstream, errUpstream}}
	g, now := newTestGuarded(up, BreakerConfig{FailureThreshold: 1, Cooldown: 5 * time.Second, Probes: 3})

	_ = fetch(g)
	*now = now.Add(6 * time.Second)

	_ = fetch(g) // probe fails
	if s := g.State(); s != Open {
		t.Fatalf("expected Open after HalfOpen failure, got %v", s)
	}
}

func TestGuarded_SuccessResetsFailureCount(t *testing.T) {
	// A nil entry is a successful fetch.
	up := &scripted{errs: []error{errUpstream, errUpstream, nil, errUpstream, errUpstream}}
	g, _ := newTestGuarded(up, BreakerConfig{FailureThreshold: 3, Cooldown: 5 * time.Second})

	for range 5 {
		_ = fetch(g)
	}
	if s := g.State(); s != Closed {
		t.Fatalf("expected Closed, got %v", s)
	}
}

func TestGuarded_CanceledCallerDoesNotCount(t *testing.T) {
	up := Func(func(ctx context.Context, _ string) ([]Expiration, error) {
		return nil, ctx.Err()
	})
	g, _ := newTestGuarded(up, BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = g.FetchChain(ctx, "AAPL")

	if s := g.State(); s != Closed {
		t.Fatalf("expected Closed after caller cancellation, got %v", s)
	}
}

func TestGuarded_ReportsTransitions(t *testing.T) {
	var seen []string
	up := &scripted{errs: []error{errUpstream}}
	g, now := newTestGuarded(up, BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		OnStateChange: func(from, to State) {
			seen = append(seen, from.String()+"->"+to.String())
		},
	})

	_ = fetch(g)
	*now = now.Add(2 * time.Second)
	_ = fetch(g)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: got %q, want %q", i, seen[i], want[i])
		}
	}
}
