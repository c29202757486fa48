package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Keksclan/optionscache/snapshot"
	"github.com/redis/go-redis/v9"
)

const (
	// SnapshotKeyPrefix prefixes every snapshot key:
	// options_chain:{TICKER}:{YYYY-MM-DD}.
	SnapshotKeyPrefix = "options_chain:"

	// RegistryKey is the hash holding ticker -> horizon (Unix seconds).
	RegistryKey = "options_chain_ttl"

	scanBatch = 100
)

// Redis is a Backend stored in Redis. Unlike a fail-soft cache layer, every
// connection error is returned wrapped in ErrUnavailable.
type Redis struct {
	rdb   *redis.Client
	codec snapshot.Codec
}

// NewRedis creates a Redis backend. It does not contact the server; use
// Ping or Dial for that.
func NewRedis(addr, password string, db int, codec snapshot.Codec) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisFromClient(rdb, codec)
}

// NewRedisFromClient wraps an existing client. Close closes that client.
func NewRedisFromClient(rdb *redis.Client, codec snapshot.Codec) *Redis {
	if codec == nil {
		codec = snapshot.JSON
	}
	return &Redis{rdb: rdb, codec: codec}
}

func snapshotKey(k snapshot.ExpirationKey) string {
	return SnapshotKeyPrefix + k.Ticker + ":" + k.Expiration
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Get retrieves and decodes a snapshot.
func (r *Redis) Get(ctx context.Context, key snapshot.ExpirationKey) (snapshot.Snapshot, bool, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snapshot.Snapshot{}, false, nil
		}
		return snapshot.Snapshot{}, false, unavailable("get "+key.String(), err)
	}
	contracts, err := r.codec.Unmarshal(data)
	if err != nil {
		return snapshot.Snapshot{}, false, fmt.Errorf("store: %s: %w", key, err)
	}
	return snapshot.Snapshot{Key: key, Contracts: contracts}, true, nil
}

// Put writes the value and its expiry in a single SET command.
func (r *Redis) Put(ctx context.Context, snap snapshot.Snapshot, ttl time.Duration) error {
	data, err := r.codec.Marshal(snap.Contracts)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", snap.Key, err)
	}
	if err := r.rdb.Set(ctx, snapshotKey(snap.Key), data, ttl).Err(); err != nil {
		return unavailable("set "+snap.Key.String(), err)
	}
	return nil
}

// RemainingTTL reads PTTL so staleness is computed with millisecond
// precision.
func (r *Redis) RemainingTTL(ctx context.Context, key snapshot.ExpirationKey) (time.Duration, bool, error) {
	d, err := r.rdb.PTTL(ctx, snapshotKey(key)).Result()
	if err != nil {
		return 0, false, unavailable("pttl "+key.String(), err)
	}
	// -2: missing key, -1: no expiry.
	if d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// ScanTicker walks the keyspace with SCAN instead of KEYS so large
// keyspaces do not block the server.
func (r *Redis) ScanTicker(ctx context.Context, ticker string) ([]snapshot.ExpirationKey, error) {
	prefix := SnapshotKeyPrefix + ticker + ":"
	iter := r.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()

	seen := make(map[string]struct{})
	var keys []snapshot.ExpirationKey
	for iter.Next(ctx) {
		exp, ok := expirationFromKey(iter.Val(), prefix)
		if !ok {
			continue
		}
		// SCAN may return a key more than once.
		if _, dup := seen[exp]; dup {
			continue
		}
		seen[exp] = struct{}{}
		keys = append(keys, snapshot.ExpirationKey{Ticker: ticker, Expiration: exp})
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan "+ticker, err)
	}
	return keys, nil
}

// expirationFromKey extracts the date from a scanned key. Keys whose suffix
// is not a bare ISO date belong to some other ticker sharing the prefix.
func expirationFromKey(key, prefix string) (string, bool) {
	exp, ok := strings.CutPrefix(key, prefix)
	if !ok || !snapshot.ValidExpiration(exp) {
		return "", false
	}
	return exp, true
}

// Horizon returns the stored horizon for ticker.
func (r *Redis) Horizon(ctx context.Context, ticker string) (time.Time, bool, error) {
	v, err := r.rdb.HGet(ctx, RegistryKey, ticker).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, unavailable("hget "+ticker, err)
	}
	t, err := parseUnixSeconds(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: horizon %s: %w", ticker, err)
	}
	return t, true, nil
}

// SetHorizon overwrites the horizon for ticker.
func (r *Redis) SetHorizon(ctx context.Context, ticker string, horizon time.Time) error {
	if err := r.rdb.HSet(ctx, RegistryKey, ticker, formatUnixSeconds(horizon)).Err(); err != nil {
		return unavailable("hset "+ticker, err)
	}
	return nil
}

// Horizons returns every registry entry, ordered by ticker. Entries whose
// value cannot be parsed are skipped.
func (r *Redis) Horizons(ctx context.Context) ([]HorizonEntry, error) {
	all, err := r.rdb.HGetAll(ctx, RegistryKey).Result()
	if err != nil {
		return nil, unavailable("hgetall", err)
	}
	out := make([]HorizonEntry, 0, len(all))
	for ticker, v := range all {
		t, err := parseUnixSeconds(v)
		if err != nil {
			continue
		}
		out = append(out, HorizonEntry{Ticker: ticker, Horizon: t})
	}
	slices.SortFunc(out, func(a, b HorizonEntry) int { return strings.Compare(a.Ticker, b.Ticker) })
	return out, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func formatUnixSeconds(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
}

func parseUnixSeconds(v string) (time.Time, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}
