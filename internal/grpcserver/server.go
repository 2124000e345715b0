// Package grpcserver exposes the wager service to internal callers over gRPC
// with a JSON codec.
package grpcserver

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ledger is the slice of wager.Service the gRPC facade needs.
type Ledger interface {
	OpenAccount(ctx context.Context, userID wager.UserID) (wager.Account, error)
	ResolveWager(ctx context.Context, request wager.Wager) (wager.Resolution, error)
	Balance(ctx context.Context, userID wager.UserID) (wager.Amount, error)
	Policy(ctx context.Context) (wager.Policy, error)
	UpdatePolicy(ctx context.Context, update wager.PolicyUpdate) (wager.Policy, error)
	AggregateStats(ctx context.Context) (wager.Stats, error)
}

// WagerServer implements WagerServiceServer on a Ledger.
type WagerServer struct {
	ledger Ledger
}

// NewWagerServer constructs a gRPC server for the wager service.
func NewWagerServer(ledger Ledger) (*WagerServer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", wager.ErrInvalidServiceConfig)
	}
	return &WagerServer{ledger: ledger}, nil
}

// NewGRPCServer returns a grpc.Server with the JSON codec and WagerService registered.
func NewGRPCServer(ledger Ledger, options ...grpc.ServerOption) (*grpc.Server, error) {
	wagerServer, err := NewWagerServer(ledger)
	if err != nil {
		return nil, err
	}
	baseOptions := []grpc.ServerOption{
		grpc.ForceServerCodec(Codec()),
		grpc.ChainUnaryInterceptor(recoverUnary),
	}
	server := grpc.NewServer(append(baseOptions, options...)...)
	RegisterWagerServiceServer(server, wagerServer)
	return server, nil
}

// recoverUnary turns a handler panic into codes.Internal instead of crashing the process.
func recoverUnary(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (response any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = nil
			err = status.Errorf(codes.Internal, "%s: internal error", info.FullMethod)
		}
	}()
	return handler(ctx, request)
}

func (service *WagerServer) OpenAccount(ctx context.Context, request *UserRequest) (*AccountResponse, error) {
	userID, err := wager.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := service.ledger.OpenAccount(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &AccountResponse{
		UserID:            account.UserID.String(),
		Balance:           account.Balance.Int64(),
		CreatedUnixUTC:    account.CreatedAt.Unix(),
		LastUpdateUnixUTC: account.LastUpdate.Unix(),
	}, nil
}

func (service *WagerServer) ResolveWager(ctx context.Context, request *ResolveWagerRequest) (*ResolveWagerResponse, error) {
	parsed, err := wager.NewWager(request.UserID, request.Stake)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	resolution, operationError := service.ledger.ResolveWager(ctx, parsed)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &ResolveWagerResponse{
		Success:      true,
		ResolutionID: resolution.ResolutionID,
		NewBalance:   resolution.NewBalance.Int64(),
		Outcome: Outcome{
			Win:    resolution.Outcome.Win,
			Amount: resolution.Outcome.Amount.Int64(),
		},
	}, nil
}

func (service *WagerServer) GetBalance(ctx context.Context, request *UserRequest) (*BalanceResponse, error) {
	userID, err := wager.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, operationError := service.ledger.Balance(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &BalanceResponse{Balance: balance.Int64()}, nil
}

func (service *WagerServer) GetPolicy(ctx context.Context, _ *Empty) (*Policy, error) {
	policy, operationError := service.ledger.Policy(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newPolicyMessage(policy), nil
}

func (service *WagerServer) UpdatePolicy(ctx context.Context, request *UpdatePolicyRequest) (*Policy, error) {
	policy, operationError := service.ledger.UpdatePolicy(ctx, wager.PolicyUpdate{
		AutoMode:       request.AutoMode,
		WinRatePercent: request.WinRatePercent,
		MinPayout:      request.MinPayout,
		MaxPayout:      request.MaxPayout,
		MinStake:       request.MinStake,
		MaxStake:       request.MaxStake,
		DefaultBalance: request.DefaultBalance,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newPolicyMessage(policy), nil
}

func (service *WagerServer) GetAggregateStats(ctx context.Context, _ *Empty) (*StatsResponse, error) {
	stats, operationError := service.ledger.AggregateStats(ctx)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &StatsResponse{
		TotalWon:       stats.TotalWon.Int64(),
		TotalLost:      stats.TotalLost.Int64(),
		SpinCount:      stats.SpinCount,
		WinRatePercent: stats.WinRatePercent.StringFixed(2),
		TargetReached:  stats.TargetReached,
	}, nil
}

func newPolicyMessage(policy wager.Policy) *Policy {
	return &Policy{
		AutoMode:       policy.AutoMode,
		WinRatePercent: policy.WinRatePercent,
		MinPayout:      policy.MinPayout.Int64(),
		MaxPayout:      policy.MaxPayout.Int64(),
		MinStake:       policy.MinStake.Int64(),
		MaxStake:       policy.MaxStake.Int64(),
		DefaultBalance: policy.DefaultBalance.Int64(),
	}
}

// mapToGRPCError carries the stable error code as the status message.
func mapToGRPCError(source error) error {
	code := wager.CodeOf(source)
	switch wager.KindOf(source) {
	case wager.ErrorKindValidation:
		if code == wager.CodeOf(wager.ErrInsufficientFunds) {
			return status.Error(codes.FailedPrecondition, code)
		}
		return status.Error(codes.InvalidArgument, code)
	case wager.ErrorKindNotFound:
		return status.Error(codes.NotFound, code)
	case wager.ErrorKindConflict:
		return status.Error(codes.AlreadyExists, code)
	case wager.ErrorKindConcurrency:
		return status.Error(codes.Aborted, code)
	default:
		return status.Error(codes.Internal, code)
	}
}
