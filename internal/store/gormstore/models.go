package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

const (
	policySettingKey   = "policy"
	aggregatesSingleID = 1
)

// Account represents the accounts table.
type Account struct {
	UserID     string    `gorm:"primaryKey"`
	Balance    int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	LastUpdate time.Time `gorm:"column:last_update;not null"`
}

func (Account) TableName() string { return "accounts" }

// Setting stores operator-editable documents keyed by name.
type Setting struct {
	Name      string                             `gorm:"primaryKey"`
	Value     datatypes.JSONType[policyDocument] `gorm:"not null"`
	UpdatedAt time.Time                          `gorm:"not null"`
}

func (Setting) TableName() string { return "settings" }

// Aggregate is the single-row table of global totals.
type Aggregate struct {
	ID        uint  `gorm:"primaryKey;autoIncrement:false"`
	TotalWon  int64 `gorm:"not null"`
	TotalLost int64 `gorm:"not null"`
	SpinCount int64 `gorm:"not null"`
}

func (Aggregate) TableName() string { return "aggregates" }

type policyDocument struct {
	AutoMode       bool  `json:"autoMode"`
	WinRatePercent int64 `json:"winRatePercent"`
	MinPayout      int64 `json:"minPayout"`
	MaxPayout      int64 `json:"maxPayout"`
	MinStake       int64 `json:"minStake"`
	MaxStake       int64 `json:"maxStake"`
	DefaultBalance int64 `json:"defaultBalance"`
}

// Models lists every table the store needs, in migration order.
func Models() []any {
	return []any{&Account{}, &Setting{}, &Aggregate{}}
}
