package wager

const (
	minWinRatePercent int64 = 0
	maxWinRatePercent int64 = 100
)

// ValidatePolicy merges update over current and sanitizes every field.
// The win rate is clamped to [0,100] and monetary fields to non-negative values.
// Min/max pairs are never reordered: an inverted pair is rejected with ErrInvalidPolicy.
func ValidatePolicy(update PolicyUpdate, current Policy) (Policy, error) {
	validated := Policy{
		AutoMode:       boolOrCurrent(update.AutoMode, current.AutoMode),
		WinRatePercent: clampWinRate(int64OrCurrent(update.WinRatePercent, current.WinRatePercent)),
		MinPayout:      amountOrCurrent(update.MinPayout, current.MinPayout),
		MaxPayout:      amountOrCurrent(update.MaxPayout, current.MaxPayout),
		MinStake:       amountOrCurrent(update.MinStake, current.MinStake),
		MaxStake:       amountOrCurrent(update.MaxStake, current.MaxStake),
		DefaultBalance: amountOrCurrent(update.DefaultBalance, current.DefaultBalance),
	}
	if err := validated.Validate(); err != nil {
		return Policy{}, WrapError(errorOperationService, "policy", "invalid", err)
	}
	return validated, nil
}

func clampWinRate(value int64) int64 {
	if value < minWinRatePercent {
		return minWinRatePercent
	}
	if value > maxWinRatePercent {
		return maxWinRatePercent
	}
	return value
}

func boolOrCurrent(value *bool, current bool) bool {
	if value == nil {
		return current
	}
	return *value
}

func int64OrCurrent(value *int64, current int64) int64 {
	if value == nil {
		return current
	}
	return *value
}

func amountOrCurrent(value *int64, current Amount) Amount {
	if value == nil {
		return current.NonNegative()
	}
	return Amount(*value).NonNegative()
}
