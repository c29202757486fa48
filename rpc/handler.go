package rpc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Keksclan/optionscache"
	"github.com/Keksclan/optionscache/contextx"
	"github.com/Keksclan/optionscache/snapshot"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Lookup is the part of optionscache.Service the handler needs.
type Lookup interface {
	GetOptionsChain(ctx context.Context, ticker string) (*optionscache.Chain, error)
	ListExpirations(ctx context.Context, ticker string) ([]string, error)
}

// Handler implements OptionsChainServer on top of a Lookup.
type Handler struct {
	lookup Lookup
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(l Lookup, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{lookup: l, logger: logger}
}

// GetOptionsChain returns the cached chain, refreshing on a full miss. An
// empty chain is a successful answer.
func (h *Handler) GetOptionsChain(ctx context.Context, req *TickerRequest) (*ChainResponse, error) {
	chain, err := h.lookup.GetOptionsChain(ctx, req.Ticker)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return &ChainResponse{Chain: *chain}, nil
}

// ListExpirations returns NotFound when nothing is cached for the ticker.
func (h *Handler) ListExpirations(ctx context.Context, req *TickerRequest) (*ExpirationsResponse, error) {
	dates, err := h.lookup.ListExpirations(ctx, req.Ticker)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	if len(dates) == 0 {
		return nil, status.Errorf(codes.NotFound, "no expiration dates found for ticker %s", req.Ticker)
	}
	ticker, _ := snapshot.NormalizeTicker(req.Ticker)
	return &ExpirationsResponse{Ticker: ticker, Expirations: dates}, nil
}

// GetStockPrice reads the underlying price recorded on the first contract
// of the earliest expiration that has one.
func (h *Handler) GetStockPrice(ctx context.Context, req *TickerRequest) (*StockPriceResponse, error) {
	chain, err := h.lookup.GetOptionsChain(ctx, req.Ticker)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	for _, e := range chain.Expirations {
		if len(e.CallOptions) == 0 {
			continue
		}
		if price, ok := e.CallOptions[0]["stock_price"]; ok && price != nil {
			return &StockPriceResponse{Ticker: chain.Ticker, StockPrice: price}, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "stock price not found for ticker %s", chain.Ticker)
}

// toStatus maps cache errors onto gRPC codes. Unexpected errors are logged
// and returned as Internal without detail.
func (h *Handler) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, optionscache.ErrInvalidTicker):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, optionscache.ErrProviderFetch), errors.Is(err, optionscache.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		contextx.Logger(ctx, h.logger).ErrorContext(ctx, "unexpected lookup error", "err", err)
		return status.Error(codes.Internal, "internal error")
	}
}
