package wager

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is an integer quantity of the single balance currency.
type Amount int64

// Int64 exposes the raw integer value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Add returns amount+other, failing with ErrInvalidBalance when the sum
// leaves the non-negative int64 range.
func (amount Amount) Add(other Amount) (Amount, error) {
	if amount < 0 || other < 0 || other > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: %d + %d is out of range", ErrInvalidBalance, amount, other)
	}
	return amount + other, nil
}

// NonNegative clamps negative amounts to zero.
func (amount Amount) NonNegative() Amount {
	if amount < 0 {
		return 0
	}
	return amount
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never initialized.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// Wager is one stake placed by a user. It is never persisted.
type Wager struct {
	UserID UserID
	Stake  Amount
}

// NewWager validates the boundary input of a single wager.
func NewWager(rawUserID string, rawStake int64) (Wager, error) {
	userID, err := NewUserID(rawUserID)
	if err != nil {
		return Wager{}, err
	}
	if rawStake <= 0 {
		return Wager{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidStake)
	}
	return Wager{UserID: userID, Stake: Amount(rawStake)}, nil
}

// Account is the per-user balance record.
type Account struct {
	UserID     UserID
	Balance    Amount
	CreatedAt  time.Time
	LastUpdate time.Time
}

// NewAccount builds an account record, rejecting a negative balance.
func NewAccount(userID UserID, balance Amount, createdAt time.Time, lastUpdate time.Time) (Account, error) {
	if userID.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if balance < 0 {
		return Account{}, fmt.Errorf("%w: %d is negative", ErrInvalidBalance, balance)
	}
	return Account{UserID: userID, Balance: balance, CreatedAt: createdAt, LastUpdate: lastUpdate}, nil
}

// Policy is the global configuration of the outcome engine and stake bounds.
type Policy struct {
	AutoMode       bool
	WinRatePercent int64
	MinPayout      Amount
	MaxPayout      Amount
	MinStake       Amount
	MaxStake       Amount
	DefaultBalance Amount
}

// DefaultPolicy is served until an operator stores a policy.
func DefaultPolicy() Policy {
	return Policy{
		AutoMode:       false,
		WinRatePercent: 0,
		MinPayout:      30_000,
		MaxPayout:      50_000,
		MinStake:       1,
		MaxStake:       1_000_000,
		DefaultBalance: 100_000,
	}
}

// Validate checks the structural invariants of a complete policy.
func (policy Policy) Validate() error {
	if policy.WinRatePercent < 0 || policy.WinRatePercent > 100 {
		return fmt.Errorf("%w: win rate %d outside [0,100]", ErrInvalidPolicy, policy.WinRatePercent)
	}
	if policy.MinPayout < 0 || policy.MaxPayout < 0 || policy.MinStake < 0 || policy.MaxStake < 0 || policy.DefaultBalance < 0 {
		return fmt.Errorf("%w: monetary fields must be non-negative", ErrInvalidPolicy)
	}
	for _, amount := range []Amount{policy.MinPayout, policy.MaxPayout, policy.MinStake, policy.MaxStake, policy.DefaultBalance} {
		if amount > MaxPolicyAmount {
			return fmt.Errorf("%w: %d exceeds the %d limit", ErrInvalidPolicy, amount, MaxPolicyAmount)
		}
	}
	if policy.MinPayout > policy.MaxPayout {
		return fmt.Errorf("%w: min payout %d exceeds max payout %d", ErrInvalidPolicy, policy.MinPayout, policy.MaxPayout)
	}
	if policy.MinStake > policy.MaxStake {
		return fmt.Errorf("%w: min stake %d exceeds max stake %d", ErrInvalidPolicy, policy.MinStake, policy.MaxStake)
	}
	return nil
}

// PolicyUpdate is a proposed policy change. Nil fields keep the current value.
type PolicyUpdate struct {
	AutoMode       *bool  `json:"autoMode,omitempty"`
	WinRatePercent *int64 `json:"winRatePercent,omitempty"`
	MinPayout      *int64 `json:"minPayout,omitempty"`
	MaxPayout      *int64 `json:"maxPayout,omitempty"`
	MinStake       *int64 `json:"minStake,omitempty"`
	MaxStake       *int64 `json:"maxStake,omitempty"`
	DefaultBalance *int64 `json:"defaultBalance,omitempty"`
}

// Aggregates are the global win/loss totals.
type Aggregates struct {
	TotalWon  Amount
	TotalLost Amount
	SpinCount int64
}

// TargetReached reports whether cumulative payouts crossed the win ceiling.
func (aggregates Aggregates) TargetReached() bool {
	return aggregates.TotalWon >= WinTargetCeiling
}

// WinRatePercent is totalWon/(totalWon+totalLost) as a percentage rounded to two places.
func (aggregates Aggregates) WinRatePercent() decimal.Decimal {
	won := decimal.NewFromInt(aggregates.TotalWon.Int64())
	total := won.Add(decimal.NewFromInt(aggregates.TotalLost.Int64()))
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return won.Mul(decimal.NewFromInt(100)).Div(total).Round(winRatePrecision)
}

// Record returns the aggregates after one resolved wager. It fails instead
// of wrapping when a total would overflow.
func (aggregates Aggregates) Record(stake Amount, outcome Outcome) (Aggregates, error) {
	updated := aggregates
	var err error
	if outcome.Win {
		updated.TotalWon, err = aggregates.TotalWon.Add(outcome.Amount)
	} else {
		updated.TotalLost, err = aggregates.TotalLost.Add(stake)
	}
	if err != nil {
		return Aggregates{}, err
	}
	if updated.SpinCount == math.MaxInt64 {
		return Aggregates{}, fmt.Errorf("%w: spin count is out of range", ErrInvalidBalance)
	}
	updated.SpinCount++
	return updated, nil
}

// Stats is the reporting view of the aggregates.
type Stats struct {
	TotalWon       Amount
	TotalLost      Amount
	SpinCount      int64
	WinRatePercent decimal.Decimal
	TargetReached  bool
}

// Outcome is the decision of the outcome engine for one wager.
type Outcome struct {
	Win    bool
	Amount Amount
}

// Resolution is the committed result of one wager.
type Resolution struct {
	ResolutionID    string
	UserID          UserID
	Stake           Amount
	Outcome         Outcome
	PreviousBalance Amount
	NewBalance      Amount
	ResolvedAt      time.Time
}

// Store is the persistence contract used by Service.
// Reads return ErrAccountNotFound or ErrPolicyNotFound for absent records;
// absent aggregates read as zero. Every write replaces the whole record atomically.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, userID UserID) (Account, error)
	InsertAccount(ctx context.Context, account Account) error
	PutAccount(ctx context.Context, account Account) error
	GetPolicy(ctx context.Context) (Policy, error)
	PutPolicy(ctx context.Context, policy Policy) error
	GetAggregates(ctx context.Context) (Aggregates, error)
	PutAggregates(ctx context.Context, aggregates Aggregates) error
}
