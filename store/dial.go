package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/optionscache/retry"
	"github.com/Keksclan/optionscache/snapshot"
)

// Backend kinds accepted by Dial.
const (
	KindRedis  = "redis"
	KindMemory = "memory"
)

// DialConfig describes how to open a Backend.
type DialConfig struct {
	Kind string

	// Redis connection.
	Addr     string
	Password string
	DB       int

	// MaxEntries bounds the in-process backend.
	MaxEntries int64

	Codec snapshot.Codec

	// Attempts is how many times the connection is tried before giving up.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	Logger *slog.Logger
}

// Dial opens the configured backend and waits until it answers a ping,
// retrying with exponential back-off. The caller owns the returned handle
// and must Close it.
func Dial(ctx context.Context, cfg DialConfig) (Backend, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kind := cfg.Kind
	if kind == "" {
		kind = KindRedis
	}

	var b Backend
	switch kind {
	case KindMemory:
		m, err := NewMemory(MemoryConfig{MaxEntries: cfg.MaxEntries, Codec: cfg.Codec})
		if err != nil {
			return nil, err
		}
		return m, nil
	case KindRedis:
		b = NewRedis(cfg.Addr, cfg.Password, cfg.DB, cfg.Codec)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Kind)
	}

	rc := retry.Config{
		MaxAttempts: cfg.Attempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      0.2,
		Retryable:   func(err error) bool { return errors.Is(err, ErrUnavailable) },
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("store not reachable, retrying", "attempt", attempt, "delay", delay, "err", err)
		},
	}
	if rc.BaseDelay <= 0 {
		rc.BaseDelay = 200 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 5 * time.Second
	}

	_, err := retry.Do(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.Ping(ctx)
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	logger.Info("store connected", "backend", kind, "addr", cfg.Addr)
	return b, nil
}
