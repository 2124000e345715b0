package redislock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLocker(test *testing.T, timeout time.Duration) (*Locker, *miniredis.Miniredis) {
	test.Helper()
	server := miniredis.RunT(test)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	test.Cleanup(func() { _ = client.Close() })
	locker, err := New(client, timeout, WithRetryInterval(time.Millisecond))
	if err != nil {
		test.Fatalf("locker init failed: %v", err)
	}
	return locker, server
}

func TestNewRejectsInvalidConfig(test *testing.T) {
	test.Parallel()
	if _, err := New(nil, time.Second); !errors.Is(err, wager.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil client, got %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := New(client, 0); !errors.Is(err, wager.ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for zero timeout, got %v", err)
	}
}

func TestLockAndRelease(test *testing.T) {
	test.Parallel()
	locker, server := newTestLocker(test, time.Second)
	release, err := locker.Lock(context.Background(), "account:user-1")
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	if !server.Exists(defaultKeyPrefix + "account:user-1") {
		test.Fatalf("expected lock key to be set")
	}
	release()
	release()
	if server.Exists(defaultKeyPrefix + "account:user-1") {
		test.Fatalf("expected lock key to be deleted")
	}
}

func TestLockTimesOutWhileHeld(test *testing.T) {
	test.Parallel()
	locker, _ := newTestLocker(test, 30*time.Millisecond)
	release, err := locker.Lock(context.Background(), "aggregates")
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	defer release()

	_, err = locker.Lock(context.Background(), "aggregates")
	if !errors.Is(err, wager.ErrLockTimeout) {
		test.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if kind := wager.KindOf(err); kind != wager.ErrorKindConcurrency || !kind.Retryable() {
		test.Fatalf("expected retryable concurrency kind, got %q", kind)
	}
}

func TestReleaseDoesNotDeleteForeignToken(test *testing.T) {
	test.Parallel()
	locker, server := newTestLocker(test, time.Second)
	release, err := locker.Lock(context.Background(), "policy")
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	key := defaultKeyPrefix + "policy"
	if err := server.Set(key, "someone-else"); err != nil {
		test.Fatalf("set: %v", err)
	}
	release()
	value, err := server.Get(key)
	if err != nil || value != "someone-else" {
		test.Fatalf("expected foreign token to survive, got %q (%v)", value, err)
	}
}

func TestExpiredHolderFreesKey(test *testing.T) {
	test.Parallel()
	server := miniredis.RunT(test)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	locker, err := New(client, 50*time.Millisecond, WithExpiration(time.Second), WithRetryInterval(time.Millisecond))
	if err != nil {
		test.Fatalf("locker init failed: %v", err)
	}
	if _, err := locker.Lock(context.Background(), "account:crashed"); err != nil {
		test.Fatalf("lock: %v", err)
	}
	server.FastForward(2 * time.Second)
	release, err := locker.Lock(context.Background(), "account:crashed")
	if err != nil {
		test.Fatalf("expected lock after expiry, got %v", err)
	}
	release()
}

func TestLockSerializesHolders(test *testing.T) {
	test.Parallel()
	locker, _ := newTestLocker(test, 5*time.Second)
	var inside int32
	var maxInside int32
	var waitGroup sync.WaitGroup
	for index := 0; index < 8; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			release, err := locker.Lock(context.Background(), "account:shared")
			if err != nil {
				test.Errorf("lock: %v", err)
				return
			}
			current := atomic.AddInt32(&inside, 1)
			for {
				observed := atomic.LoadInt32(&maxInside)
				if current <= observed || atomic.CompareAndSwapInt32(&maxInside, observed, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	waitGroup.Wait()
	if maxInside != 1 {
		test.Fatalf("expected one holder at a time, observed %d", maxInside)
	}
}

func TestHeldKeyIsRenewed(test *testing.T) {
	test.Parallel()
	server := miniredis.RunT(test)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	locker, err := New(client, time.Second, WithExpiration(3*time.Second), WithRenewInterval(10*time.Millisecond))
	if err != nil {
		test.Fatalf("locker init failed: %v", err)
	}
	release, err := locker.Lock(context.Background(), "account:slow")
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	key := defaultKeyPrefix + "account:slow"

	server.FastForward(2 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for server.TTL(key) <= 2*time.Second {
		if time.Now().After(deadline) {
			test.Fatalf("expected renewal to extend the ttl, got %s", server.TTL(key))
		}
		time.Sleep(5 * time.Millisecond)
	}
	server.FastForward(2 * time.Second)
	if !server.Exists(key) {
		test.Fatalf("expected renewed key to outlive the original expiry")
	}
	release()
	if server.Exists(key) {
		test.Fatalf("expected key to be deleted on release")
	}
}

func TestRenewalStopsWhenKeyIsLost(test *testing.T) {
	test.Parallel()
	server := miniredis.RunT(test)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()
	core, logs := observer.New(zap.WarnLevel)
	locker, err := New(client, time.Second, WithRenewInterval(5*time.Millisecond), WithLogger(zap.New(core)))
	if err != nil {
		test.Fatalf("locker init failed: %v", err)
	}
	release, err := locker.Lock(context.Background(), "account:stolen")
	if err != nil {
		test.Fatalf("lock: %v", err)
	}
	key := defaultKeyPrefix + "account:stolen"
	if err := server.Set(key, "someone-else"); err != nil {
		test.Fatalf("set: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("redis lock lost before release").Len() == 0 {
		if time.Now().After(deadline) {
			test.Fatalf("expected lost lock to be reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ttl := server.TTL(key); ttl != 0 {
		test.Fatalf("expected foreign key ttl untouched, got %s", ttl)
	}
	release()
	if value, _ := server.Get(key); value != "someone-else" {
		test.Fatalf("expected foreign token to survive, got %q", value)
	}
}
