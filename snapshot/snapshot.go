// Package snapshot defines the cached data model: normalized tickers,
// per-expiration keys, opaque contract records and the codecs used to
// persist them.
package snapshot

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the ISO date layout used for expiration dates.
const DateLayout = "2006-01-02"

// ErrInvalidTicker is returned when a ticker is empty after normalization or
// contains a character outside A-Z, 0-9, '.', '^' and '-'.
var ErrInvalidTicker = errors.New("snapshot: invalid ticker")

// ContractRecord is a single option contract as delivered by the provider
// (strike, bid, ask, volume, implied volatility, delta, stock price, ...).
// The cache passes it through untouched.
type ContractRecord map[string]any

// ExpirationKey identifies one snapshot: a ticker and one of its expiration
// dates.
type ExpirationKey struct {
	Ticker     string
	Expiration string
}

// String renders the key as "TICKER:YYYY-MM-DD".
func (k ExpirationKey) String() string {
	return k.Ticker + ":" + k.Expiration
}

// Snapshot is the ordered contract list of one expiration captured by a
// single refresh.
type Snapshot struct {
	Key       ExpirationKey
	Contracts []ContractRecord
}

// NormalizeTicker trims and uppercases a ticker symbol. The key separator
// ':' is rejected with the rest of the punctuation so one ticker's keys can
// never fall under another ticker's prefix.
func NormalizeTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", ErrInvalidTicker
	}
	for _, c := range t {
		if !tickerRune(c) {
			return "", ErrInvalidTicker
		}
	}
	return t, nil
}

func tickerRune(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '^', c == '-':
		return true
	}
	return false
}

// ValidExpiration reports whether s is an ISO YYYY-MM-DD date.
func ValidExpiration(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
