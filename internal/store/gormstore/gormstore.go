package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	gosqlite "github.com/glebarez/go-sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountPrimary = "accounts_pkey"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	mysqlDuplicateEntryCode  = 1062
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectPolicy       = "policy"
	errorSubjectAggregates   = "aggregates"
	errorSubjectSchema       = "schema"
	errorSubjectTransaction  = "transaction"
	errorCodeCommit          = "commit"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeMigrate         = "migrate"
	errorCodePut             = "put"
)

// Store implements wager.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables backing Store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wager.PersistenceError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	var operationError wager.OperationError
	if err != nil && !errors.As(err, &operationError) {
		return wager.PersistenceError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return err
}

func (store *Store) GetAccount(ctx context.Context, userID wager.UserID) (wager.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Account{}, wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", wager.ErrAccountNotFound, userID))
	}
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) InsertAccount(ctx context.Context, account wager.Account) error {
	model := newAccountModel(account)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isAccountConflict(err) {
		return wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeInsert, wager.ErrAccountExists)
	}
	if err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) PutAccount(ctx context.Context, account wager.Account) error {
	model := newAccountModel(account)
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "last_update"}),
		}).
		Create(&model).Error
	if err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetPolicy(ctx context.Context) (wager.Policy, error) {
	var model Setting
	err := store.db.WithContext(ctx).Where("name = ?", policySettingKey).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Policy{}, wager.WrapError(errorOperationStore, errorSubjectPolicy, errorCodeGet, wager.ErrPolicyNotFound)
	}
	if err != nil {
		return wager.Policy{}, wager.PersistenceError(errorSubjectPolicy, errorCodeGet, err)
	}
	document := model.Value.Data()
	return wager.Policy{
		AutoMode:       document.AutoMode,
		WinRatePercent: document.WinRatePercent,
		MinPayout:      wager.Amount(document.MinPayout),
		MaxPayout:      wager.Amount(document.MaxPayout),
		MinStake:       wager.Amount(document.MinStake),
		MaxStake:       wager.Amount(document.MaxStake),
		DefaultBalance: wager.Amount(document.DefaultBalance),
	}, nil
}

func (store *Store) PutPolicy(ctx context.Context, policy wager.Policy) error {
	model := Setting{
		Name: policySettingKey,
		Value: datatypes.NewJSONType(policyDocument{
			AutoMode:       policy.AutoMode,
			WinRatePercent: policy.WinRatePercent,
			MinPayout:      policy.MinPayout.Int64(),
			MaxPayout:      policy.MaxPayout.Int64(),
			MinStake:       policy.MinStake.Int64(),
			MaxStake:       policy.MaxStake.Int64(),
			DefaultBalance: policy.DefaultBalance.Int64(),
		}),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wager.PersistenceError(errorSubjectPolicy, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetAggregates(ctx context.Context) (wager.Aggregates, error) {
	var model Aggregate
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", aggregatesSingleID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wager.Aggregates{}, nil
	}
	if err != nil {
		return wager.Aggregates{}, wager.PersistenceError(errorSubjectAggregates, errorCodeGet, err)
	}
	return wager.Aggregates{
		TotalWon:  wager.Amount(model.TotalWon),
		TotalLost: wager.Amount(model.TotalLost),
		SpinCount: model.SpinCount,
	}, nil
}

func (store *Store) PutAggregates(ctx context.Context, aggregates wager.Aggregates) error {
	model := Aggregate{
		ID:        aggregatesSingleID,
		TotalWon:  aggregates.TotalWon.Int64(),
		TotalLost: aggregates.TotalLost.Int64(),
		SpinCount: aggregates.SpinCount,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_won", "total_lost", "spin_count"}),
		}).
		Create(&model).Error
	if err != nil {
		return wager.PersistenceError(errorSubjectAggregates, errorCodePut, err)
	}
	return nil
}

func newAccountModel(account wager.Account) Account {
	return Account{
		UserID:     account.UserID.String(),
		Balance:    account.Balance.Int64(),
		CreatedAt:  account.CreatedAt.UTC(),
		LastUpdate: account.LastUpdate.UTC(),
	}
}

func mapAccount(model Account) (wager.Account, error) {
	userID, err := wager.NewUserID(model.UserID)
	if err != nil {
		return wager.Account{}, err
	}
	return wager.NewAccount(userID, wager.Amount(model.Balance), model.CreatedAt.UTC(), model.LastUpdate.UTC())
}

func isAccountConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryCode
	}
	return false
}
