package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

const defaultLockTTL = 14 * time.Minute

// Lock coordinates exclusive cron cycles across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type obtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// RedisLock holds a redislock lease for one cycle. It is not safe for
// concurrent cycles; the service runs them sequentially.
type RedisLock struct {
	locker obtainer
	key    string
	ttl    time.Duration
	held   *redislock.Lock
}

// NewRedisLock builds a lock on key. The ttl should exceed the longest cycle.
func NewRedisLock(locker obtainer, key string, ttl time.Duration) (*RedisLock, error) {
	if locker == nil {
		return nil, errors.New("redis locker required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{locker: locker, key: key, ttl: ttl}, nil
}

// Acquire makes a single attempt; false means another replica owns the cycle.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	lease, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain %s: %w", l.key, err)
	}
	l.held = lease
	return true, nil
}

// Release drops the lease. A lease that already expired is not an error.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.held == nil {
		return nil
	}
	lease := l.held
	l.held = nil
	if err := lease.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
