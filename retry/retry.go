package retry

import (
	"context"
	"time"
)

// Config controls the retry behaviour of [Do].
type Config struct {
	// MaxAttempts is the maximum number of times fn is called (including the
	// first attempt). Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Subsequent retries use
	// exponential back-off: BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay, jitter included. Zero leaves it uncapped.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. A value of 0.2 means ±20 % of
	// the computed delay. Zero disables jitter.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool

	// OnRetry, when set, is called before each back-off sleep with the
	// failed attempt number (1-based), the error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do calls fn up to cfg.MaxAttempts times, retrying while cfg.Retryable
// accepts the returned error. Between attempts an exponential back-off delay
// (with optional jitter) is applied.
//
// The context is checked before every retry; if ctx is done the function
// returns immediately with the context error.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	var err error
	for i := range attempts {
		var result T
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if i == attempts-1 {
			break
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		delay := backoff(cfg, i)
		if cfg.OnRetry != nil {
			cfg.OnRetry(i+1, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, err
}
