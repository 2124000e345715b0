package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	store, err := New(test.TempDir())
	if err != nil {
		test.Fatalf("filestore init failed: %v", err)
	}
	return store
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

func TestAccountRoundTrip(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	account := mustAccount(test, "user/with:odd chars", 1500)

	if _, err := store.GetAccount(ctx, account.UserID); !errors.Is(err, wager.ErrAccountNotFound) {
		test.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := store.InsertAccount(ctx, account); err != nil {
		test.Fatalf("insert: %v", err)
	}
	if err := store.InsertAccount(ctx, account); !errors.Is(err, wager.ErrAccountExists) {
		test.Fatalf("expected ErrAccountExists, got %v", err)
	}
	account.Balance = 900
	account.LastUpdate = fixedNow.Add(time.Minute)
	if err := store.PutAccount(ctx, account); err != nil {
		test.Fatalf("put: %v", err)
	}
	loaded, err := store.GetAccount(ctx, account.UserID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Balance != 900 || !loaded.LastUpdate.Equal(account.LastUpdate) || !loaded.CreatedAt.Equal(fixedNow) {
		test.Fatalf("unexpected account: %+v", loaded)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), accountsDirName))
	if err != nil {
		test.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		test.Fatalf("expected exactly one account file and no staging leftovers, got %d", len(entries))
	}
}

func TestPolicyAndAggregatesDefaults(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	if _, err := store.GetPolicy(ctx); !errors.Is(err, wager.ErrPolicyNotFound) {
		test.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
	aggregates, err := store.GetAggregates(ctx)
	if err != nil {
		test.Fatalf("aggregates: %v", err)
	}
	if aggregates != (wager.Aggregates{}) {
		test.Fatalf("expected zero aggregates, got %+v", aggregates)
	}
	policy := wager.DefaultPolicy()
	policy.WinRatePercent = 77
	if err := store.PutPolicy(ctx, policy); err != nil {
		test.Fatalf("put policy: %v", err)
	}
	loaded, err := store.GetPolicy(ctx)
	if err != nil || loaded != policy {
		test.Fatalf("expected %+v, got %+v (%v)", policy, loaded, err)
	}
}

func TestFailedCommitKeepsPriorRecord(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	if err := store.PutAggregates(ctx, wager.Aggregates{TotalWon: 10, SpinCount: 1}); err != nil {
		test.Fatalf("put aggregates: %v", err)
	}
	store.renameFn = func(string, string) error { return errors.New("disk full") }

	err := store.PutAggregates(ctx, wager.Aggregates{TotalWon: 99, SpinCount: 2})
	if wager.KindOf(err) != wager.ErrorKindPersistence {
		test.Fatalf("expected persistence error, got %v", err)
	}
	store.renameFn = os.Rename
	aggregates, err := store.GetAggregates(ctx)
	if err != nil {
		test.Fatalf("aggregates: %v", err)
	}
	if aggregates != (wager.Aggregates{TotalWon: 10, SpinCount: 1}) {
		test.Fatalf("prior record not authoritative: %+v", aggregates)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		test.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".staging-") {
			test.Fatalf("staging file left behind: %s", entry.Name())
		}
	}
}

func TestTransactionRestoresAccountWhenAggregatesFail(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	account := mustAccount(test, "user-1", 10_000)
	if err := store.InsertAccount(ctx, account); err != nil {
		test.Fatalf("insert: %v", err)
	}
	aggregatesPath := filepath.Join(store.Root(), aggregatesFileName)
	store.renameFn = func(oldPath string, newPath string) error {
		if newPath == aggregatesPath {
			return errors.New("disk full")
		}
		return os.Rename(oldPath, newPath)
	}

	err := store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		updated := account
		updated.Balance = 4000
		if err := txStore.PutAccount(ctx, updated); err != nil {
			return err
		}
		staged, err := txStore.GetAccount(ctx, account.UserID)
		if err != nil || staged.Balance != 4000 {
			test.Errorf("expected staged read of 4000, got %+v (%v)", staged, err)
		}
		return txStore.PutAggregates(ctx, wager.Aggregates{TotalLost: 6000, SpinCount: 1})
	})
	if wager.KindOf(err) != wager.ErrorKindPersistence {
		test.Fatalf("expected persistence error, got %v", err)
	}
	loaded, err := store.GetAccount(ctx, account.UserID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if loaded.Balance != 10_000 {
		test.Fatalf("expected account restored to 10000, got %d", loaded.Balance)
	}
}

func TestTransactionDiscardsOnCallbackError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	callbackErr := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, txStore wager.Store) error {
		if err := txStore.PutAggregates(ctx, wager.Aggregates{SpinCount: 5}); err != nil {
			return err
		}
		return callbackErr
	})
	if !errors.Is(err, callbackErr) {
		test.Fatalf("expected callback error, got %v", err)
	}
	aggregates, err := store.GetAggregates(ctx)
	if err != nil || aggregates.SpinCount != 0 {
		test.Fatalf("expected nothing committed, got %+v (%v)", aggregates, err)
	}
}

func TestCorruptRecordIsPersistenceError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	if err := os.WriteFile(filepath.Join(store.Root(), policyFileName), []byte("{not json"), fileMode); err != nil {
		test.Fatalf("write: %v", err)
	}
	_, err := store.GetPolicy(context.Background())
	if wager.KindOf(err) != wager.ErrorKindPersistence {
		test.Fatalf("expected persistence error, got %v", err)
	}
}

func TestServiceOverFileStore(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service, err := wager.NewService(store, wager.NewGuard(5*time.Second), func() time.Time { return fixedNow })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	ctx := context.Background()
	winRate := int64(0)
	if _, err := service.UpdatePolicy(ctx, wager.PolicyUpdate{WinRatePercent: &winRate}); err != nil {
		test.Fatalf("update policy: %v", err)
	}
	const users = 4
	const wagersPerUser = 10
	for index := 0; index < users; index++ {
		userID, _ := wager.NewUserID("user-" + string(rune('a'+index)))
		if _, err := service.OpenAccount(ctx, userID); err != nil {
			test.Fatalf("open account: %v", err)
		}
	}
	var waitGroup sync.WaitGroup
	for index := 0; index < users; index++ {
		rawUserID := "user-" + string(rune('a'+index))
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for attempt := 0; attempt < wagersPerUser; attempt++ {
				request, _ := wager.NewWager(rawUserID, 100)
				if _, err := service.ResolveWager(ctx, request); err != nil {
					test.Errorf("resolve: %v", err)
					return
				}
			}
		}()
	}
	waitGroup.Wait()
	stats, err := service.AggregateStats(ctx)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.SpinCount != users*wagersPerUser || stats.TotalLost != users*wagersPerUser*100 {
		test.Fatalf("unexpected stats: %+v", stats)
	}
	userID, _ := wager.NewUserID("user-a")
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance != wager.DefaultPolicy().DefaultBalance-wagersPerUser*100 {
		test.Fatalf("unexpected balance %d", balance)
	}
}
