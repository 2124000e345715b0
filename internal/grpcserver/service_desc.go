package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "stakeledger.wager.v1.WagerService"

const (
	methodOpenAccount       = "OpenAccount"
	methodResolveWager      = "ResolveWager"
	methodGetBalance        = "GetBalance"
	methodGetPolicy         = "GetPolicy"
	methodUpdatePolicy      = "UpdatePolicy"
	methodGetAggregateStats = "GetAggregateStats"
)

// WagerServiceServer is the server API for WagerService.
type WagerServiceServer interface {
	OpenAccount(ctx context.Context, request *UserRequest) (*AccountResponse, error)
	ResolveWager(ctx context.Context, request *ResolveWagerRequest) (*ResolveWagerResponse, error)
	GetBalance(ctx context.Context, request *UserRequest) (*BalanceResponse, error)
	GetPolicy(ctx context.Context, request *Empty) (*Policy, error)
	UpdatePolicy(ctx context.Context, request *UpdatePolicyRequest) (*Policy, error)
	GetAggregateStats(ctx context.Context, request *Empty) (*StatsResponse, error)
}

// ServiceDesc describes WagerService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WagerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodOpenAccount, Handler: unaryHandler(methodOpenAccount, WagerServiceServer.OpenAccount)},
		{MethodName: methodResolveWager, Handler: unaryHandler(methodResolveWager, WagerServiceServer.ResolveWager)},
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, WagerServiceServer.GetBalance)},
		{MethodName: methodGetPolicy, Handler: unaryHandler(methodGetPolicy, WagerServiceServer.GetPolicy)},
		{MethodName: methodUpdatePolicy, Handler: unaryHandler(methodUpdatePolicy, WagerServiceServer.UpdatePolicy)},
		{MethodName: methodGetAggregateStats, Handler: unaryHandler(methodGetAggregateStats, WagerServiceServer.GetAggregateStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakeledger/wager/v1/wager.json",
}

// RegisterWagerServiceServer attaches server to registrar.
func RegisterWagerServiceServer(registrar grpc.ServiceRegistrar, server WagerServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// unaryHandler returns a value assignable to grpc.MethodDesc.Handler, whose named type is unexported.
func unaryHandler[Request any, Response any](method string, call func(WagerServiceServer, context.Context, *Request) (*Response, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(server.(WagerServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(server.(WagerServiceServer), ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}
