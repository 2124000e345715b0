package filestore

import (
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
)

type accountRecord struct {
	UserID     string    `json:"userId"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUpdate time.Time `json:"lastUpdate"`
}

type policyRecord struct {
	AutoMode       bool  `json:"autoMode"`
	WinRatePercent int64 `json:"winRatePercent"`
	MinPayout      int64 `json:"minPayout"`
	MaxPayout      int64 `json:"maxPayout"`
	MinStake       int64 `json:"minStake"`
	MaxStake       int64 `json:"maxStake"`
	DefaultBalance int64 `json:"defaultBalance"`
}

type aggregatesRecord struct {
	TotalWon  int64 `json:"totalWon"`
	TotalLost int64 `json:"totalLost"`
	SpinCount int64 `json:"spinCount"`
}

func newAccountRecord(account wager.Account) accountRecord {
	return accountRecord{
		UserID:     account.UserID.String(),
		Balance:    account.Balance.Int64(),
		CreatedAt:  account.CreatedAt.UTC(),
		LastUpdate: account.LastUpdate.UTC(),
	}
}

func (record accountRecord) toAccount() (wager.Account, error) {
	userID, err := wager.NewUserID(record.UserID)
	if err != nil {
		return wager.Account{}, err
	}
	return wager.NewAccount(userID, wager.Amount(record.Balance), record.CreatedAt, record.LastUpdate)
}

func newPolicyRecord(policy wager.Policy) policyRecord {
	return policyRecord{
		AutoMode:       policy.AutoMode,
		WinRatePercent: policy.WinRatePercent,
		MinPayout:      policy.MinPayout.Int64(),
		MaxPayout:      policy.MaxPayout.Int64(),
		MinStake:       policy.MinStake.Int64(),
		MaxStake:       policy.MaxStake.Int64(),
		DefaultBalance: policy.DefaultBalance.Int64(),
	}
}

func (record policyRecord) toPolicy() wager.Policy {
	return wager.Policy{
		AutoMode:       record.AutoMode,
		WinRatePercent: record.WinRatePercent,
		MinPayout:      wager.Amount(record.MinPayout),
		MaxPayout:      wager.Amount(record.MaxPayout),
		MinStake:       wager.Amount(record.MinStake),
		MaxStake:       wager.Amount(record.MaxStake),
		DefaultBalance: wager.Amount(record.DefaultBalance),
	}
}

func newAggregatesRecord(aggregates wager.Aggregates) aggregatesRecord {
	return aggregatesRecord{
		TotalWon:  aggregates.TotalWon.Int64(),
		TotalLost: aggregates.TotalLost.Int64(),
		SpinCount: aggregates.SpinCount,
	}
}

func (record aggregatesRecord) toAggregates() wager.Aggregates {
	return wager.Aggregates{
		TotalWon:  wager.Amount(record.TotalWon),
		TotalLost: wager.Amount(record.TotalLost),
		SpinCount: record.SpinCount,
	}
}
