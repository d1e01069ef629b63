package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// REDIS LOCKER - Cross-process product locks
// =============================================================================

// RedisLocker extends a process-local Locker with one Redis lock per product,
// so several server processes sharing a database serialize on the same
// products. The Redis level is coarser than the local one: every product in
// the scope is locked exclusively, shared or not.
//
// The global scope (rebuild, verify) stays process-local.
type RedisLocker struct {
	local  Locker
	client *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

type RedisLockerOption func(*RedisLocker)

// WithRedisTTL sets how long a Redis lock lives if its holder dies.
func WithRedisTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithRedisPrefix sets the key prefix, for sharing one Redis between ledgers.
func WithRedisPrefix(prefix string) RedisLockerOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

func NewRedisLocker(client redislock.RedisClient, local Locker, opts ...RedisLockerOption) *RedisLocker {
	if local == nil {
		local = NewLocalLocker()
	}
	l := &RedisLocker{
		local:  local,
		client: redislock.New(client),
		prefix: "stock-ledger:lock:product:",
		ttl:    30 * time.Second,
		retry:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock takes the local scope first, then the Redis product keys in sorted order.
func (l *RedisLocker) Lock(ctx context.Context, scope LockScope) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, scope)
	if err != nil {
		return nil, err
	}
	if scope.Global {
		return unlockLocal, nil
	}

	var locks []*redislock.Lock
	release := func() {
		// Release even when the caller's context is already cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(locks) - 1; i >= 0; i-- {
			_ = locks[i].Release(rctx)
		}
		unlockLocal()
	}

	for _, p := range scope.productIDs() {
		lock, err := l.client.Obtain(ctx, l.key(p), l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(l.retry),
		})
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) && ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, &ledger.BusyError{Scope: "redis product " + string(p), Err: err}
		}
		locks = append(locks, lock)
	}
	return release, nil
}

func (l *RedisLocker) key(p ledger.ProductID) string {
	return l.prefix + string(p)
}
