package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit state of a Guarded provider.
//
//   - Closed: fetches flow normally; consecutive failures are counted.
//   - Open: fetches fail fast with ErrCircuitOpen until Cooldown elapses.
//   - HalfOpen: up to Probes fetches are let through; all succeeding closes
//     the circuit, any failure reopens it.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BreakerConfig holds the circuit parameters.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed fetches that
	// opens the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// Probes is the number of consecutive successful fetches in HalfOpen
	// needed to close the circuit. Defaults to 1.
	Probes int

	// OnStateChange, when set, is called after every transition while the
	// breaker is locked; it must not call back into the Guarded provider.
	OnStateChange func(from, to State)
}

// Guarded wraps a DataProvider with a circuit breaker so a provider that is
// down is not hammered by every cache miss and scheduler tick. It does not
// retry. All methods are safe for concurrent use.
type Guarded struct {
	next DataProvider
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	inFlight  int // probes admitted in HalfOpen
	openedAt  time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

// NewGuarded wraps next with a circuit breaker.
func NewGuarded(next DataProvider, cfg BreakerConfig) *Guarded {
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Guarded{next: next, cfg: cfg, nowFunc: time.Now}
}

// State returns the current state. An open circuit whose cooldown has
// elapsed reports HalfOpen.
func (g *Guarded) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkCooldown()
	return g.state
}

// FetchChain forwards to the wrapped provider unless the circuit is open.
func (g *Guarded) FetchChain(ctx context.Context, ticker string) ([]Expiration, error) {
	if !g.admit() {
		return nil, fmt.Errorf("%w: fetch %s", ErrCircuitOpen, ticker)
	}
	chain, err := g.next.FetchChain(ctx, ticker)
	switch {
	case err == nil:
		g.onSuccess()
	case errors.Is(err, context.Canceled):
		// The caller gave up; the provider is not at fault.
		g.release()
	default:
		g.onFailure()
	}
	return chain, err
}

func (g *Guarded) admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkCooldown()
	switch g.state {
	case Closed:
		return true
	case HalfOpen:
		if g.successes+g.inFlight >= g.cfg.Probes {
			return false
		}
		g.inFlight++
		return true
	default:
		return false
	}
}

func (g *Guarded) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == HalfOpen && g.inFlight > 0 {
		g.inFlight--
	}
}

func (g *Guarded) onSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Closed:
		g.failures = 0
	case HalfOpen:
		if g.inFlight > 0 {
			g.inFlight--
		}
		g.successes++
		if g.successes >= g.cfg.Probes {
			g.transition(Closed)
			g.failures = 0
			g.successes = 0
		}
	}
}

func (g *Guarded) onFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Closed:
		g.failures++
		if g.failures >= g.cfg.FailureThreshold {
			g.toOpen()
		}
	case HalfOpen:
		g.toOpen()
	}
}

// checkCooldown moves Open to HalfOpen once the cooldown has elapsed. Must
// be called with g.mu held.
func (g *Guarded) checkCooldown() {
	if g.state == Open && g.now().Sub(g.openedAt) >= g.cfg.Cooldown {
		g.transition(HalfOpen)
		g.successes = 0
		g.inFlight = 0
	}
}

func (g *Guarded) toOpen() {
	g.transition(Open)
	g.openedAt = g.now()
	g.successes = 0
	g.inFlight = 0
}

func (g *Guarded) transition(to State) {
	from := g.state
	g.state = to
	if from != to && g.cfg.OnStateChange != nil {
		g.cfg.OnStateChange(from, to)
	}
}

func (g *Guarded) now() time.Time {
	if g.nowFunc != nil {
		return g.nowFunc()
	}
	return time.Now()
}
