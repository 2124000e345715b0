package wager

const (
	// WinTargetCeiling is the cumulative payout after which no further wins are granted.
	WinTargetCeiling Amount = 5_000_000

	// MaxPolicyAmount caps every monetary policy field. Payout and stake
	// arithmetic on values below it cannot overflow int64.
	MaxPolicyAmount Amount = 1_000_000_000_000_000

	operationResolve      = "resolve"
	operationOpenAccount  = "open_account"
	operationUpdatePolicy = "update_policy"
	operationPublish      = "publish"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorOperationGuard   = "guard"
	errorOperationStore   = "store"

	lockKeyAccountPrefix = "account:"
	lockKeyAggregates    = "aggregates"
	lockKeyPolicy        = "policy"

	winRatePrecision int32 = 2
)
