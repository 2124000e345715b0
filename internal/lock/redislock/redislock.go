// Package redislock implements wager.Locker on Redis so several wagerd
// processes can share one ledger.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix     = "wager:lock:"
	defaultExpiration    = 30 * time.Second
	defaultRetryInterval = 10 * time.Millisecond
	releaseTimeout       = 2 * time.Second
	renewalsPerExpiry    = 3

	errorOperationGuard = "guard"
	errorSubjectLock    = "lock"
	errorCodeAcquire    = "acquire"
	errorCodeTimeout    = "timeout"
)

// unlockScript deletes the key only while it still holds this holder's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the key's expiry only while it still holds this holder's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Option configures a Locker.
type Option func(*Locker)

// WithKeyPrefix namespaces every lock key.
func WithKeyPrefix(prefix string) Option {
	return func(locker *Locker) {
		locker.keyPrefix = prefix
	}
}

// WithExpiration bounds how long a crashed holder can keep a key. A live
// holder renews the key every expiration/3 until it releases it.
func WithExpiration(expiration time.Duration) Option {
	return func(locker *Locker) {
		if expiration > 0 {
			locker.expiration = expiration
		}
	}
}

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(locker *Locker) {
		if interval > 0 {
			locker.retryInterval = interval
		}
	}
}

// WithRenewInterval overrides how often a held key's expiry is extended.
func WithRenewInterval(interval time.Duration) Option {
	return func(locker *Locker) {
		if interval > 0 {
			locker.renewInterval = interval
		}
	}
}

// WithLogger reports release and renewal failures.
func WithLogger(logger *zap.Logger) Option {
	return func(locker *Locker) {
		if logger != nil {
			locker.logger = logger
		}
	}
}

// Locker grants exclusive keys using SET NX with a per-holder token.
type Locker struct {
	client        redis.UniversalClient
	timeout       time.Duration
	keyPrefix     string
	expiration    time.Duration
	retryInterval time.Duration
	renewInterval time.Duration
	logger        *zap.Logger
	newToken      func() string
}

// New returns a Locker that waits at most timeout for each key.
func New(client redis.UniversalClient, timeout time.Duration, options ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", wager.ErrInvalidServiceConfig)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: lock timeout must be positive", wager.ErrInvalidServiceConfig)
	}
	locker := &Locker{
		client:        client,
		timeout:       timeout,
		keyPrefix:     defaultKeyPrefix,
		expiration:    defaultExpiration,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
		newToken:      uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	if locker.renewInterval <= 0 || locker.renewInterval >= locker.expiration {
		locker.renewInterval = locker.expiration / renewalsPerExpiry
	}
	return locker, nil
}

// Lock blocks until key is held, ctx ends or the timeout elapses.
func (locker *Locker) Lock(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, locker.timeout)
	defer cancel()

	redisKey := locker.keyPrefix + key
	token := locker.newToken()
	for {
		acquired, err := locker.client.SetNX(waitCtx, redisKey, token, locker.expiration).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, wager.PersistenceError(errorSubjectLock, errorCodeAcquire, err)
		}
		if acquired {
			return locker.releaser(redisKey, token), nil
		}
		select {
		case <-waitCtx.Done():
			return nil, wager.WrapError(errorOperationGuard, errorSubjectLock, errorCodeTimeout, fmt.Errorf("%w: %s: %v", wager.ErrLockTimeout, key, waitCtx.Err()))
		case <-time.After(locker.retryInterval):
		}
	}
}

func (locker *Locker) releaser(redisKey string, token string) func() {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go locker.renew(redisKey, token, stop, stopped)
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			locker.release(redisKey, token)
		})
	}
}

// renew keeps the key alive while held. It stops once the key no longer
// carries token, since another holder may own it by then.
func (locker *Locker) renew(redisKey string, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(locker.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		renewCtx, cancel := context.WithTimeout(context.Background(), locker.renewInterval)
		renewed, err := renewScript.Run(renewCtx, locker.client, []string{redisKey}, token, locker.expiration.Milliseconds()).Int64()
		cancel()
		if errors.Is(err, redis.ErrClosed) {
			return
		}
		if err != nil {
			locker.logger.Warn("redis lock renewal failed", zap.String("key", redisKey), zap.Error(err))
			continue
		}
		if renewed == 0 {
			locker.logger.Error("redis lock lost before release", zap.String("key", redisKey))
			return
		}
	}
}

func (locker *Locker) release(redisKey string, token string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := unlockScript.Run(releaseCtx, locker.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		locker.logger.Warn("redis lock release failed", zap.String("key", redisKey), zap.Error(err))
	}
}
