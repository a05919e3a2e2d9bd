package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrLockHeld = errors.New("lock is already held")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker is a single-holder redis lock. The value identifies the holder so
// that only it can release the key.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{client: client, key: key, value: value}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, lock for key %s expired or is held by another owner", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, strconv.FormatInt(ttl.Milliseconds(), 10)).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed, lock for key %s expired or is held by another owner", l.key)
	}
	return nil
}

// WaitLock polls Lock until it succeeds, wait elapses or ctx is done.
func (l *Locker) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = wait

	err := backoff.Retry(func() error {
		err := l.Lock(ctx, ttl)
		if err != nil && !errors.Is(err, ErrLockHeld) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if errors.Is(err, ErrLockHeld) {
		return fmt.Errorf("failed to acquire lock for key %s within %s: %w", l.key, wait, err)
	}
	return err
}

// Manager serializes work per key across processes.
type Manager struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

func NewManager(client redis.UniversalClient, prefix string, ttl, wait time.Duration) *Manager {
	return &Manager{client: client, prefix: prefix, ttl: ttl, wait: wait}
}

// WithLock runs fn while holding the lock for key. The lock is extended
// every third of its ttl until fn returns.
func (m *Manager) WithLock(ctx context.Context, key string, fn func() error) error {
	l := NewLocker(m.client, m.prefix+key, uuid.NewString())
	if err := l.WaitLock(ctx, m.ttl, m.wait); err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(m.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := l.ExtendLock(context.WithoutCancel(ctx), m.ttl); err != nil {
					logrus.WithError(err).WithField("key", l.key).Warn("failed to extend lock")
				}
			}
		}
	}()
	defer func() {
		close(done)
		<-stopped
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("key", l.key).Warn("failed to release lock")
		}
	}()
	return fn()
}
