package wager

import (
	"fmt"
	"math/rand/v2"
)

// RandomSource draws uniform integers in [0, n). Implementations used by a
// shared Service must be safe for concurrent use.
type RandomSource interface {
	Int64N(n int64) int64
}

type globalRandomSource struct{}

func (globalRandomSource) Int64N(n int64) int64 {
	return rand.Int64N(n)
}

// Decide evaluates the outcome policy for one wager.
// Once aggregates cross WinTargetCeiling every decision is a loss.
func Decide(policy Policy, aggregates Aggregates, source RandomSource) (Outcome, error) {
	if aggregates.TargetReached() {
		return Outcome{}, nil
	}
	roll := source.Int64N(maxWinRatePercent) + 1
	if roll > policy.WinRatePercent {
		return Outcome{}, nil
	}
	if policy.MinPayout < 0 || policy.MinPayout > policy.MaxPayout || policy.MaxPayout > MaxPolicyAmount {
		return Outcome{}, fmt.Errorf("%w: payout range [%d,%d] is not drawable", ErrInvalidPolicy, policy.MinPayout, policy.MaxPayout)
	}
	span := (policy.MaxPayout - policy.MinPayout).Int64() + 1
	amount := policy.MinPayout + Amount(source.Int64N(span))
	return Outcome{Win: true, Amount: amount}, nil
}
