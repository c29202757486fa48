package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxBody bounds the size of a chain response.
const maxBody = 32 << 20

// HTTP fetches chains from an upstream service that answers
// GET {base}/options/{TICKER} with a JSON array of Expiration values.
type HTTP struct {
	base string
	hc   *http.Client
}

// NewHTTP creates an HTTP provider. A nil client uses http.DefaultClient,
// which has no timeout.
func NewHTTP(baseURL string, hc *http.Client) *HTTP {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTP{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

// FetchChain performs a single request; it never retries.
func (h *HTTP) FetchChain(ctx context.Context, ticker string) ([]Expiration, error) {
	u := h.base + "/options/" + url.PathEscape(ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider: fetch %s: status %d: %s", ticker, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var chain []Expiration
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&chain); err != nil {
		return nil, fmt.Errorf("provider: decode %s: %w", ticker, err)
	}
	return chain, nil
}
