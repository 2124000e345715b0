// Package pgstore implements wager.Store directly on a pgx connection pool.
// Its tables match the ones gormstore migrates, so either engine can serve
// the same database.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintAccountPrimary = "accounts_pkey"
	pgUniqueViolationCode    = "23505"
	policySettingName        = "policy"
	aggregatesRowID          = 1
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectPolicy       = "policy"
	errorSubjectAggregates   = "aggregates"
	errorSubjectSchema       = "schema"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeDecode          = "decode"
	errorCodeEncode          = "encode"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeMigrate         = "migrate"
	errorCodePut             = "put"

	sqlCreateSchema = `
		create table if not exists accounts (
			user_id text primary key,
			balance bigint not null,
			created_at timestamptz not null,
			last_update timestamptz not null
		);
		create table if not exists settings (
			name text primary key,
			value jsonb not null,
			updated_at timestamptz not null
		);
		create table if not exists aggregates (
			id bigint primary key,
			total_won bigint not null,
			total_lost bigint not null,
			spin_count bigint not null
		);
	`

	sqlSelectAccount = `
		select user_id, balance, created_at, last_update from accounts
		where user_id = $1
		for update
	`

	sqlInsertAccount = `
		insert into accounts(user_id, balance, created_at, last_update)
		values ($1, $2, $3, $4)
	`

	sqlUpsertAccount = `
		insert into accounts(user_id, balance, created_at, last_update)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update set balance = excluded.balance, last_update = excluded.last_update
	`

	sqlSelectSetting = `select value from settings where name = $1`

	sqlUpsertSetting = `
		insert into settings(name, value, updated_at) values ($1, $2, now())
		on conflict (name) do update set value = excluded.value, updated_at = excluded.updated_at
	`

	sqlSelectAggregates = `
		select total_won, total_lost, spin_count from aggregates
		where id = $1
		for update
	`

	sqlUpsertAggregates = `
		insert into aggregates(id, total_won, total_lost, spin_count) values ($1, $2, $3, $4)
		on conflict (id) do update set
			total_won = excluded.total_won,
			total_lost = excluded.total_lost,
			spin_count = excluded.spin_count
	`
)

// querier is the part of pgxpool.Pool and pgx.Tx the store issues statements on.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wager.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Migrate creates the tables if they do not exist yet.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, sqlCreateSchema); err != nil {
		return wager.PersistenceError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wager.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wager.PersistenceError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wager.PersistenceError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, userID wager.UserID) (wager.Account, error) {
	var (
		userValue  string
		balance    int64
		createdAt  time.Time
		lastUpdate time.Time
	)
	err := store.db.QueryRow(ctx, sqlSelectAccount, userID.String()).Scan(&userValue, &balance, &createdAt, &lastUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Account{}, wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", wager.ErrAccountNotFound, userID))
	}
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeGet, err)
	}
	parsedUserID, err := wager.NewUserID(userValue)
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account, err := wager.NewAccount(parsedUserID, wager.Amount(balance), createdAt.UTC(), lastUpdate.UTC())
	if err != nil {
		return wager.Account{}, wager.PersistenceError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) InsertAccount(ctx context.Context, account wager.Account) error {
	_, err := store.db.Exec(ctx, sqlInsertAccount, accountArguments(account)...)
	if isAccountConflict(err) {
		return wager.WrapError(errorOperationStore, errorSubjectAccount, errorCodeInsert, wager.ErrAccountExists)
	}
	if err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) PutAccount(ctx context.Context, account wager.Account) error {
	if _, err := store.db.Exec(ctx, sqlUpsertAccount, accountArguments(account)...); err != nil {
		return wager.PersistenceError(errorSubjectAccount, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetPolicy(ctx context.Context) (wager.Policy, error) {
	var raw []byte
	err := store.db.QueryRow(ctx, sqlSelectSetting, policySettingName).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Policy{}, wager.WrapError(errorOperationStore, errorSubjectPolicy, errorCodeGet, wager.ErrPolicyNotFound)
	}
	if err != nil {
		return wager.Policy{}, wager.PersistenceError(errorSubjectPolicy, errorCodeGet, err)
	}
	var document policyDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return wager.Policy{}, wager.PersistenceError(errorSubjectPolicy, errorCodeDecode, err)
	}
	return document.toPolicy(), nil
}

func (store *Store) PutPolicy(ctx context.Context, policy wager.Policy) error {
	raw, err := json.Marshal(newPolicyDocument(policy))
	if err != nil {
		return wager.PersistenceError(errorSubjectPolicy, errorCodeEncode, err)
	}
	if _, err := store.db.Exec(ctx, sqlUpsertSetting, policySettingName, raw); err != nil {
		return wager.PersistenceError(errorSubjectPolicy, errorCodePut, err)
	}
	return nil
}

func (store *Store) GetAggregates(ctx context.Context) (wager.Aggregates, error) {
	var totalWon, totalLost, spinCount int64
	err := store.db.QueryRow(ctx, sqlSelectAggregates, aggregatesRowID).Scan(&totalWon, &totalLost, &spinCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return wager.Aggregates{}, nil
	}
	if err != nil {
		return wager.Aggregates{}, wager.PersistenceError(errorSubjectAggregates, errorCodeGet, err)
	}
	return wager.Aggregates{
		TotalWon:  wager.Amount(totalWon),
		TotalLost: wager.Amount(totalLost),
		SpinCount: spinCount,
	}, nil
}

func (store *Store) PutAggregates(ctx context.Context, aggregates wager.Aggregates) error {
	_, err := store.db.Exec(ctx, sqlUpsertAggregates,
		aggregatesRowID,
		aggregates.TotalWon.Int64(),
		aggregates.TotalLost.Int64(),
		aggregates.SpinCount,
	)
	if err != nil {
		return wager.PersistenceError(errorSubjectAggregates, errorCodePut, err)
	}
	return nil
}

func accountArguments(account wager.Account) []any {
	return []any{
		account.UserID.String(),
		account.Balance.Int64(),
		account.CreatedAt.UTC(),
		account.LastUpdate.UTC(),
	}
}

type policyDocument struct {
	AutoMode       bool  `json:"autoMode"`
	WinRatePercent int64 `json:"winRatePercent"`
	MinPayout      int64 `json:"minPayout"`
	MaxPayout      int64 `json:"maxPayout"`
	MinStake       int64 `json:"minStake"`
	MaxStake       int64 `json:"maxStake"`
	DefaultBalance int64 `json:"defaultBalance"`
}

func newPolicyDocument(policy wager.Policy) policyDocument {
	return policyDocument{
		AutoMode:       policy.AutoMode,
		WinRatePercent: policy.WinRatePercent,
		MinPayout:      policy.MinPayout.Int64(),
		MaxPayout:      policy.MaxPayout.Int64(),
		MinStake:       policy.MinStake.Int64(),
		MaxStake:       policy.MaxStake.Int64(),
		DefaultBalance: policy.DefaultBalance.Int64(),
	}
}

func (document policyDocument) toPolicy() wager.Policy {
	return wager.Policy{
		AutoMode:       document.AutoMode,
		WinRatePercent: document.WinRatePercent,
		MinPayout:      wager.Amount(document.MinPayout),
		MaxPayout:      wager.Amount(document.MaxPayout),
		MinStake:       wager.Amount(document.MinStake),
		MaxStake:       wager.Amount(document.MaxStake),
		DefaultBalance: wager.Amount(document.DefaultBalance),
	}
}

func isAccountConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountPrimary
	}
	return false
}
