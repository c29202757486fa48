package rpc

import (
	"context"

	"github.com/Keksclan/optionscache"
	"github.com/Keksclan/optionscache/snapshot"
	"google.golang.org/grpc"
)

// Client calls optionscache.v1.OptionsChain over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetOptionsChain fetches the chain of ticker.
func (c *Client) GetOptionsChain(ctx context.Context, ticker string, opts ...grpc.CallOption) (*optionscache.Chain, error) {
	resp := new(ChainResponse)
	if err := c.cc.Invoke(ctx, MethodGetOptionsChain, &TickerRequest{Ticker: ticker}, resp, opts...); err != nil {
		return nil, err
	}
	chain := resp.Chain
	chain.Ticker, _ = snapshot.NormalizeTicker(ticker)
	return &chain, nil
}

// ListExpirations fetches the cached expiration dates of ticker.
func (c *Client) ListExpirations(ctx context.Context, ticker string, opts ...grpc.CallOption) (*ExpirationsResponse, error) {
	resp := new(ExpirationsResponse)
	if err := c.cc.Invoke(ctx, MethodListExpirations, &TickerRequest{Ticker: ticker}, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetStockPrice fetches the underlying price of ticker.
func (c *Client) GetStockPrice(ctx context.Context, ticker string, opts ...grpc.CallOption) (*StockPriceResponse, error) {
	resp := new(StockPriceResponse)
	if err := c.cc.Invoke(ctx, MethodGetStockPrice, &TickerRequest{Ticker: ticker}, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}
