package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "optionscache.v1.OptionsChain"

// Full method names.
const (
	MethodGetOptionsChain = "/" + ServiceName + "/GetOptionsChain"
	MethodListExpirations = "/" + ServiceName + "/ListExpirations"
	MethodGetStockPrice   = "/" + ServiceName + "/GetStockPrice"
)

// OptionsChainServer is implemented by the service behind ServiceDesc.
type OptionsChainServer interface {
	GetOptionsChain(ctx context.Context, req *TickerRequest) (*ChainResponse, error)
	ListExpirations(ctx context.Context, req *TickerRequest) (*ExpirationsResponse, error)
	GetStockPrice(ctx context.Context, req *TickerRequest) (*StockPriceResponse, error)
}

// ServiceDesc describes optionscache.v1.OptionsChain.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OptionsChainServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetOptionsChain",
			Handler: unary(MethodGetOptionsChain, func(s OptionsChainServer, ctx context.Context, req *TickerRequest) (any, error) {
				return s.GetOptionsChain(ctx, req)
			}),
		},
		{
			MethodName: "ListExpirations",
			Handler: unary(MethodListExpirations, func(s OptionsChainServer, ctx context.Context, req *TickerRequest) (any, error) {
				return s.ListExpirations(ctx, req)
			}),
		},
		{
			MethodName: "GetStockPrice",
			Handler: unary(MethodGetStockPrice, func(s OptionsChainServer, ctx context.Context, req *TickerRequest) (any, error) {
				return s.GetStockPrice(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "optionscache/v1/options_chain.proto",
}

// unary builds a grpc.MethodHandler for a method taking a TickerRequest.
func unary(fullMethod string, call func(OptionsChainServer, context.Context, *TickerRequest) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(TickerRequest)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(OptionsChainServer)
		if interceptor == nil {
			return call(s, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return call(s, ctx, r.(*TickerRequest))
		})
	}
}

// Register registers impl on s.
func Register(s *grpc.Server, impl OptionsChainServer) {
	s.RegisterService(&ServiceDesc, impl)
}
