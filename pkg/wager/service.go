package wager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type transactionState string

const (
	stateReceived          transactionState = "received"
	stateStakeValidated    transactionState = "stake_validated"
	stateOutcomeDetermined transactionState = "outcome_determined"
	stateBalanceApplied    transactionState = "balance_applied"
	stateCommitted         transactionState = "committed"
)

// Service resolves wagers against a Store under a Locker.
type Service struct {
	store     Store
	locker    Locker
	nowFn     func() time.Time
	random    RandomSource
	newID     func() string
	logger    OperationLogger
	publisher ResolutionPublisher
}

// NewService wires a Service.
func NewService(store Store, locker Locker, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if locker == nil {
		return nil, fmt.Errorf("%w: locker dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		locker: locker,
		nowFn:  now,
		random: globalRandomSource{},
		newID:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ResolveWager validates the stake, decides the outcome and commits the new
// balance and aggregates. On any error nothing is applied.
func (service *Service) ResolveWager(ctx context.Context, wager Wager) (Resolution, error) {
	var resolution Resolution
	state := stateReceived
	operationError := WithLock(ctx, service.locker, accountLockKey(wager.UserID), func() error {
		account, err := service.store.GetAccount(ctx, wager.UserID)
		if err != nil {
			return err
		}
		policy, err := service.currentPolicy(ctx)
		if err != nil {
			return err
		}
		if err := validateStake(wager.Stake, policy, account); err != nil {
			return err
		}
		state = stateStakeValidated

		return WithLock(ctx, service.locker, lockKeyAggregates, func() error {
			aggregates, err := service.store.GetAggregates(ctx)
			if err != nil {
				return err
			}
			outcome, err := Decide(policy, aggregates, service.random)
			if err != nil {
				return err
			}
			state = stateOutcomeDetermined

			now := service.nowFn().UTC()
			updatedAccount := account
			updatedAccount.Balance = account.Balance - wager.Stake
			if outcome.Win {
				if updatedAccount.Balance, err = updatedAccount.Balance.Add(outcome.Amount); err != nil {
					return err
				}
			}
			updatedAccount.LastUpdate = now
			updatedAggregates, err := aggregates.Record(wager.Stake, outcome)
			if err != nil {
				return err
			}
			state = stateBalanceApplied

			err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
				if err := transactionStore.PutAccount(ctx, updatedAccount); err != nil {
					return err
				}
				return transactionStore.PutAggregates(ctx, updatedAggregates)
			})
			if err != nil {
				return err
			}
			state = stateCommitted

			resolution = Resolution{
				ResolutionID:    service.newID(),
				UserID:          wager.UserID,
				Stake:           wager.Stake,
				Outcome:         outcome,
				PreviousBalance: account.Balance,
				NewBalance:      updatedAccount.Balance,
				ResolvedAt:      now,
			}
			return nil
		})
	})
	if operationError != nil {
		operationError = WrapError(errorOperationService, operationResolve, string(state), operationError)
	}
	service.logOperation(ctx, OperationLog{
		Operation:    operationResolve,
		UserID:       wager.UserID,
		ResolutionID: resolution.ResolutionID,
		Stake:        wager.Stake,
		Outcome:      resolution.Outcome,
		Balance:      resolution.NewBalance,
		Error:        operationError,
	})
	if operationError != nil {
		return Resolution{}, operationError
	}
	service.publish(ctx, resolution)
	return resolution, nil
}

// OpenAccount creates an account funded with the policy's default balance.
func (service *Service) OpenAccount(ctx context.Context, userID UserID) (Account, error) {
	var account Account
	operationError := WithLock(ctx, service.locker, accountLockKey(userID), func() error {
		policy, err := service.currentPolicy(ctx)
		if err != nil {
			return err
		}
		now := service.nowFn().UTC()
		created, err := NewAccount(userID, policy.DefaultBalance, now, now)
		if err != nil {
			return err
		}
		if err := service.store.InsertAccount(ctx, created); err != nil {
			return err
		}
		account = created
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationOpenAccount,
		UserID:    userID,
		Balance:   account.Balance,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// Account returns the stored account for userID.
func (service *Service) Account(ctx context.Context, userID UserID) (Account, error) {
	return service.store.GetAccount(ctx, userID)
}

// Balance returns the current balance for userID.
func (service *Service) Balance(ctx context.Context, userID UserID) (Amount, error) {
	account, err := service.store.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Policy returns the stored policy, or DefaultPolicy when none was stored.
func (service *Service) Policy(ctx context.Context) (Policy, error) {
	return service.currentPolicy(ctx)
}

// UpdatePolicy validates update against the current policy and persists the result.
func (service *Service) UpdatePolicy(ctx context.Context, update PolicyUpdate) (Policy, error) {
	var policy Policy
	operationError := WithLock(ctx, service.locker, lockKeyPolicy, func() error {
		current, err := service.currentPolicy(ctx)
		if err != nil {
			return err
		}
		validated, err := ValidatePolicy(update, current)
		if err != nil {
			return err
		}
		if err := service.store.PutPolicy(ctx, validated); err != nil {
			return err
		}
		policy = validated
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdatePolicy,
		Error:     operationError,
	})
	if operationError != nil {
		return Policy{}, operationError
	}
	return policy, nil
}

// AggregateStats returns the global totals with derived win rate and ceiling flag.
func (service *Service) AggregateStats(ctx context.Context) (Stats, error) {
	aggregates, err := service.store.GetAggregates(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalWon:       aggregates.TotalWon,
		TotalLost:      aggregates.TotalLost,
		SpinCount:      aggregates.SpinCount,
		WinRatePercent: aggregates.WinRatePercent(),
		TargetReached:  aggregates.TargetReached(),
	}, nil
}

func (service *Service) currentPolicy(ctx context.Context) (Policy, error) {
	policy, err := service.store.GetPolicy(ctx)
	if errors.Is(err, ErrPolicyNotFound) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (service *Service) publish(ctx context.Context, resolution Resolution) {
	if service.publisher == nil {
		return
	}
	if err := service.publisher.PublishResolution(ctx, resolution); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:    operationPublish,
			UserID:       resolution.UserID,
			ResolutionID: resolution.ResolutionID,
			Error:        err,
		})
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	if entry.Error != nil && entry.Kind == ErrorKindNone {
		entry.Kind = KindOf(entry.Error)
	}
	service.logger.LogOperation(ctx, entry)
}

func validateStake(stake Amount, policy Policy, account Account) error {
	if stake <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidStake)
	}
	if stake < policy.MinStake {
		return fmt.Errorf("%w: %d < %d", ErrStakeBelowMinimum, stake, policy.MinStake)
	}
	if stake > policy.MaxStake {
		return fmt.Errorf("%w: %d > %d", ErrStakeAboveMaximum, stake, policy.MaxStake)
	}
	if stake > account.Balance {
		return fmt.Errorf("%w: stake %d exceeds balance %d", ErrInsufficientFunds, stake, account.Balance)
	}
	return nil
}
