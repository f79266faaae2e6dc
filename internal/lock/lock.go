// Package lock provides the cross-instance order lock. Row locks already make
// each unit of work safe; the Redis lock keeps replicas from piling onto the
// same order and burning retries on lock waits.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

const keyPrefix = "escrow:lock:"

// Locker runs fn while holding an exclusive lock on key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Options tunes lock acquisition.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits short order mutations.
func DefaultOptions() Options {
	return Options{Expiry: 10 * time.Second, Tries: 20, RetryDelay: 50 * time.Millisecond}
}

// Redis implements Locker with the Redlock algorithm over a single client.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

// NewRedis builds a Redis-backed Locker.
func NewRedis(client redis.UniversalClient, opts Options, logger *slog.Logger) *Redis {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultOptions().Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = DefaultOptions().Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}
	return &Redis{rs: redsync.New(goredis.NewPool(client)), opts: opts, logger: logger}
}

// WithLock acquires key, runs fn and releases key. Failing to acquire the lock
// is transient: the holder will finish and the caller may retry.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	mutex := r.rs.NewMutex(
		keyPrefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return domainerr.Wrap(domainerr.KindTransient, err, fmt.Sprintf("acquire lock %s", key))
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			r.logger.Warn("failed to release lock", slog.String("key", key), slog.Any("error", err))
		}
	}()

	return fn(ctx)
}

// Noop is the Locker used when no Redis lock is configured.
type Noop struct{}

// WithLock runs fn directly.
func (Noop) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}
