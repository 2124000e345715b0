package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/wager.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	return New(db)
}

func mustAccount(test *testing.T, rawUserID string, balance wager.Amount) wager.Account {
	test.Helper()
	userID, err := wager.NewUserID(rawUserID)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	account, err := wager.NewAccount(userID, balance, fixedNow, fixedNow)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	return account
}

func TestAccountLifecycle(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	account := mustAccount(test, "user-1", 2500)

	_, err := store.GetAccount(ctx, account.UserID)
	if !errors.Is(err, wager.ErrAccountNotFound) || wager.KindOf(err) != wager.ErrorKindNotFound {
		test.Fatalf("expected not found, got %v", err)
	}
	if err := store.InsertAccount(ctx, account); err != nil {
		test.Fatalf("insert: %v", err)
	}
	err = store.InsertAccount(ctx, account)
	if !errors.Is(err, wager.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}
	account.Balance = 1200
	account.LastUpdate = fixedNow.Add(time.Hour)
	if err := store.PutAccount(ctx, account); err != nil {
		test.Fatalf("put: %v", err)
	}
	loaded, err := store.GetAccount(ctx, account.UserID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Balance != 1200 || !loaded.LastUpdate.Equal(account.LastUpdate) || !loaded.CreatedAt.Equal(fixedNow) {
		test.Fatalf("unexpected account: %+v", loaded)
	}
}

func TestPolicyDocument(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	if _, err := store.GetPolicy(ctx); !errors.Is(err, wager.ErrPolicyNotFound) {
		test.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
	policy := wager.DefaultPolicy()
	policy.AutoMode = true
	policy.WinRatePercent = 42
	if err := store.PutPolicy(ctx, policy); err != nil {
		test.Fatalf("put: %v", err)
	}
	policy.MaxPayout = 70_000
	if err := store.PutPolicy(ctx, policy); err != nil {
		test.Fatalf("second put: %v", err)
	}
	loaded, err := store.GetPolicy(ctx)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded != policy {
		test.Fatalf("expected %+v, got %+v", policy, loaded)
	}
}

func TestAggregatesSingleRow(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	aggregates, err := store.GetAggregates(ctx)
	if err != nil || aggregates != (wager.Aggregates{}) {
		test.Fatalf("expected zero aggregates, got %+v (%v)", aggregates, err)
	}
	for _, value := range []wager.Aggregates{{TotalWon: 5, SpinCount: 1}, {TotalWon: 5, TotalLost: 7, SpinCount: 2}} {
		if err := store.PutAggregates(ctx, value); err != nil {
			test.Fatalf("put: %v", err)
		}
	}
	aggregates, err = store.GetAggregates(ctx)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if aggregates != (wager.Aggregates{TotalWon: 5, TotalLost: 7, SpinCount: 2}) {
		test.Fatalf("unexpected aggregates: %+v", aggregates)
	}
	var rows int64
	if err := store.db.Model(&Aggregate{}).Count(&rows).Error; err != nil || rows != 1 {
		test.Fatalf("expected one aggregates row, got %d (%v)", rows, err)
	}
}

func TestTransactionRollsBackAccount(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	ctx := context.Background()
	account := mustAccount(test, "user-2", 10_000)
	if err := store.InsertAccount(ctx, account); err != nil {
		test.Fatalf("insert: %v", err)
	}
	callbackErr := errors.New("aggregates write refused")
	err := store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		updated := account
		updated.Balance = 1
		if err := txStore.PutAccount(ctx, updated); err != nil {
			return err
		}
		return callbackErr
	})
	if !errors.Is(err, callbackErr) {
		test.Fatalf("expected callback error, got %v", err)
	}
	loaded, err := store.GetAccount(ctx, account.UserID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Balance != 10_000 {
		test.Fatalf("expected rollback to 10000, got %d", loaded.Balance)
	}
}

type lossSource struct{}

func (lossSource) Int64N(n int64) int64 { return n - 1 }

func TestServiceOverGormStore(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	service, err := wager.NewService(store, wager.NewGuard(5*time.Second), func() time.Time { return fixedNow }, wager.WithRandomSource(lossSource{}))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	ctx := context.Background()
	userID, _ := wager.NewUserID("player")
	if _, err := service.OpenAccount(ctx, userID); err != nil {
		test.Fatalf("open: %v", err)
	}
	request, _ := wager.NewWager("player", 2500)
	resolution, err := service.ResolveWager(ctx, request)
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolution.Outcome.Win || resolution.NewBalance != wager.DefaultPolicy().DefaultBalance-2500 {
		test.Fatalf("unexpected resolution: %+v", resolution)
	}
	stats, err := service.AggregateStats(ctx)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.SpinCount != 1 || stats.TotalLost != 2500 || !stats.WinRatePercent.IsZero() {
		test.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestIsAccountConflictAcrossDrivers(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "translated duplicate", err: fmt.Errorf("create: %w", gorm.ErrDuplicatedKey), expected: true},
		{name: "postgres primary key", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintAccountPrimary}, expected: true},
		{name: "postgres other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "settings_pkey"}, expected: false},
		{name: "mysql duplicate entry", err: &gomysql.MySQLError{Number: mysqlDuplicateEntryCode, Message: "Duplicate entry"}, expected: true},
		{name: "mysql other", err: &gomysql.MySQLError{Number: 1213, Message: "Deadlock found"}, expected: false},
		{name: "plain error", err: errors.New("disk full"), expected: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isAccountConflict(testCase.err); got != testCase.expected {
				test.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}
