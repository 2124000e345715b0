package grpcserver

// UserRequest identifies the account an operation targets.
type UserRequest struct {
	UserID string `json:"userId"`
}

type ResolveWagerRequest struct {
	UserID string `json:"userId"`
	Stake  int64  `json:"stake"`
}

type Outcome struct {
	Win    bool  `json:"win"`
	Amount int64 `json:"amount"`
}

type ResolveWagerResponse struct {
	Success      bool    `json:"success"`
	ResolutionID string  `json:"resolutionId"`
	NewBalance   int64   `json:"newBalance"`
	Outcome      Outcome `json:"outcome"`
}

type AccountResponse struct {
	UserID            string `json:"userId"`
	Balance           int64  `json:"balance"`
	CreatedUnixUTC    int64  `json:"createdUnixUtc"`
	LastUpdateUnixUTC int64  `json:"lastUpdateUnixUtc"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type Empty struct{}

type Policy struct {
	AutoMode       bool  `json:"autoMode"`
	WinRatePercent int64 `json:"winRatePercent"`
	MinPayout      int64 `json:"minPayout"`
	MaxPayout      int64 `json:"maxPayout"`
	MinStake       int64 `json:"minStake"`
	MaxStake       int64 `json:"maxStake"`
	DefaultBalance int64 `json:"defaultBalance"`
}

// UpdatePolicyRequest carries only the fields to change.
type UpdatePolicyRequest struct {
	AutoMode       *bool  `json:"autoMode,omitempty"`
	WinRatePercent *int64 `json:"winRatePercent,omitempty"`
	MinPayout      *int64 `json:"minPayout,omitempty"`
	MaxPayout      *int64 `json:"maxPayout,omitempty"`
	MinStake       *int64 `json:"minStake,omitempty"`
	MaxStake       *int64 `json:"maxStake,omitempty"`
	DefaultBalance *int64 `json:"defaultBalance,omitempty"`
}

type StatsResponse struct {
	TotalWon       int64  `json:"totalWon"`
	TotalLost      int64  `json:"totalLost"`
	SpinCount      int64  `json:"spinCount"`
	WinRatePercent string `json:"winRatePercent"`
	TargetReached  bool   `json:"targetReached"`
}
