// Package retry runs an operation again after transient failures, sleeping
// an exponentially growing, jittered delay between attempts. Store dialing
// uses it; chain fetches from the provider are single attempts.
package retry

import (
	"math/rand/v2"
	"time"
)

// backoff is the sleep after failed attempt n (0 for the first failure).
// BaseDelay doubles per attempt until it reaches MaxDelay; a non-positive
// MaxDelay leaves it uncapped. Jitter spreads the result by up to ±Jitter of
// itself, and the spread result still never exceeds MaxDelay.
func backoff(cfg Config, n int) time.Duration {
	d := cfg.BaseDelay
	for range n {
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			break
		}
		if d >= time.Duration(1<<62) {
			break // doubling again would overflow
		}
		d *= 2
	}
	if cfg.MaxDelay > 0 {
		d = min(d, cfg.MaxDelay)
	}

	if cfg.Jitter > 0 && d > 0 {
		spread := float64(d) * cfg.Jitter * (2*rand.Float64() - 1)
		d += time.Duration(spread)
		if cfg.MaxDelay > 0 {
			d = min(d, cfg.MaxDelay)
		}
	}
	return max(d, 0)
}
