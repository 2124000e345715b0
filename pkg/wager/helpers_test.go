package wager

import (
	"context"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	mutex      sync.Mutex
	accounts   map[string]Account
	policy     *Policy
	aggregates Aggregates

	getAccountError    error
	insertAccountError error
	putAccountError    error
	getPolicyError     error
	putPolicyError     error
	getAggregatesError error
	putAggregatesError error
	putAccountCalls    int
	putAggregatesCalls int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[string]Account)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	accountsSnapshot := make(map[string]Account, len(store.accounts))
	for key, value := range store.accounts {
		accountsSnapshot[key] = value
	}
	aggregatesSnapshot := store.aggregates
	store.mutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.mutex.Lock()
		store.accounts = accountsSnapshot
		store.aggregates = aggregatesSnapshot
		store.mutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) GetAccount(_ context.Context, userID UserID) (Account, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[userID.String()]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) InsertAccount(_ context.Context, account Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertAccountError != nil {
		return store.insertAccountError
	}
	if _, exists := store.accounts[account.UserID.String()]; exists {
		return ErrAccountExists
	}
	store.accounts[account.UserID.String()] = account
	return nil
}

func (store *stubStore) PutAccount(_ context.Context, account Account) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.putAccountCalls++
	if store.putAccountError != nil {
		return store.putAccountError
	}
	store.accounts[account.UserID.String()] = account
	return nil
}

func (store *stubStore) GetPolicy(context.Context) (Policy, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getPolicyError != nil {
		return Policy{}, store.getPolicyError
	}
	if store.policy == nil {
		return Policy{}, ErrPolicyNotFound
	}
	return *store.policy, nil
}

func (store *stubStore) PutPolicy(_ context.Context, policy Policy) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.putPolicyError != nil {
		return store.putPolicyError
	}
	stored := policy
	store.policy = &stored
	return nil
}

func (store *stubStore) GetAggregates(context.Context) (Aggregates, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getAggregatesError != nil {
		return Aggregates{}, store.getAggregatesError
	}
	return store.aggregates, nil
}

func (store *stubStore) PutAggregates(_ context.Context, aggregates Aggregates) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.putAggregatesCalls++
	if store.putAggregatesError != nil {
		return store.putAggregatesError
	}
	store.aggregates = aggregates
	return nil
}

func (store *stubStore) seedAccount(test *testing.T, rawUserID string, balance Amount) UserID {
	test.Helper()
	userID := mustUserID(test, rawUserID)
	account, err := NewAccount(userID, balance, fixedNow.Add(-time.Hour), fixedNow.Add(-time.Hour))
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	store.mutex.Lock()
	store.accounts[userID.String()] = account
	store.mutex.Unlock()
	return userID
}

func (store *stubStore) seedPolicy(policy Policy) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	stored := policy
	store.policy = &stored
}

func (store *stubStore) mustAccount(test *testing.T, userID UserID) Account {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.accounts[userID.String()]
	if !ok {
		test.Fatalf("account %s missing", userID)
	}
	return account
}

// sequenceSource replays fixed draws; each value must already lie in [0,n).
type sequenceSource struct {
	mutex  sync.Mutex
	values []int64
	calls  int
}

func (source *sequenceSource) Int64N(n int64) int64 {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	if len(source.values) == 0 {
		return 0
	}
	value := source.values[source.calls%len(source.values)]
	source.calls++
	if value >= n {
		return n - 1
	}
	return value
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

type recorderPublisher struct {
	mutex       sync.Mutex
	resolutions []Resolution
	err         error
}

func (publisher *recorderPublisher) PublishResolution(_ context.Context, resolution Resolution) error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	publisher.resolutions = append(publisher.resolutions, resolution)
	return publisher.err
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustWager(test *testing.T, rawUserID string, stake int64) Wager {
	test.Helper()
	wager, err := NewWager(rawUserID, stake)
	if err != nil {
		test.Fatalf("wager: %v", err)
	}
	return wager
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, NewGuard(time.Second), func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func fixedPolicy(winRatePercent int64, minPayout Amount, maxPayout Amount) Policy {
	policy := DefaultPolicy()
	policy.WinRatePercent = winRatePercent
	policy.MinPayout = minPayout
	policy.MaxPayout = maxPayout
	return policy
}

func int64Pointer(value int64) *int64 {
	return &value
}

func boolPointer(value bool) *bool {
	return &value
}
