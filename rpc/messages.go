// Package rpc exposes the cache over gRPC as optionscache.v1.OptionsChain.
// The service is registered from a hand-written grpc.ServiceDesc and its
// messages are plain Go structs sent as JSON, so no protobuf code generation
// is involved. Importing the package installs the codec that does this.
package rpc

import (
	"github.com/Keksclan/optionscache"
)

// TickerRequest names the ticker a call is about.
type TickerRequest struct {
	Ticker string `json:"ticker"`
}

// ChainResponse is an options chain in the cache's JSON shape:
// {"<date>": {"call_options": [...]}, ..., "delay": N}.
type ChainResponse struct {
	optionscache.Chain
}

// ExpirationsResponse lists the cached expiration dates of a ticker.
type ExpirationsResponse struct {
	Ticker      string   `json:"ticker"`
	Expirations []string `json:"expirations"`
}

// StockPriceResponse carries the underlying price recorded with the chain.
// The value is passed through as the provider sent it.
type StockPriceResponse struct {
	Ticker     string `json:"ticker"`
	StockPrice any    `json:"stock_price"`
}

// jsonMsg marks the types the codec sends as JSON.
type jsonMsg interface {
	isJSONMsg()
}

func (*TickerRequest) isJSONMsg()       {}
func (*ChainResponse) isJSONMsg()       {}
func (*ExpirationsResponse) isJSONMsg() {}
func (*StockPriceResponse) isJSONMsg()  {}
