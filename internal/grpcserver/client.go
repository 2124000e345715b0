package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// Client calls WagerService over conn using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) invoke(ctx context.Context, method string, request any, response any) error {
	return client.conn.Invoke(ctx, fullMethod(method), request, response, grpc.ForceCodec(Codec()))
}

func (client *Client) OpenAccount(ctx context.Context, request *UserRequest) (*AccountResponse, error) {
	response := new(AccountResponse)
	if err := client.invoke(ctx, methodOpenAccount, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) ResolveWager(ctx context.Context, request *ResolveWagerRequest) (*ResolveWagerResponse, error) {
	response := new(ResolveWagerResponse)
	if err := client.invoke(ctx, methodResolveWager, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetBalance(ctx context.Context, request *UserRequest) (*BalanceResponse, error) {
	response := new(BalanceResponse)
	if err := client.invoke(ctx, methodGetBalance, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetPolicy(ctx context.Context) (*Policy, error) {
	response := new(Policy)
	if err := client.invoke(ctx, methodGetPolicy, &Empty{}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) UpdatePolicy(ctx context.Context, request *UpdatePolicyRequest) (*Policy, error) {
	response := new(Policy)
	if err := client.invoke(ctx, methodUpdatePolicy, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetAggregateStats(ctx context.Context) (*StatsResponse, error) {
	response := new(StatsResponse)
	if err := client.invoke(ctx, methodGetAggregateStats, &Empty{}, response); err != nil {
		return nil, err
	}
	return response, nil
}

// WaitForReady blocks until conn is ready, shut down, or ctx ends.
func WaitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
