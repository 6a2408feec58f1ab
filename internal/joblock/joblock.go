// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package joblock provides locks that keep several replicas of the bot from
// running the same scheduled job at once.
package joblock

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"go.astrophena.name/ebbinghaus/internal/util/syncx"
)

// Locker acquires named locks without waiting.
type Locker interface {
	// TryLock acquires the lock named key. If it is held elsewhere, ok is
	// false. The returned unlock function releases the lock.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// DefaultExpiry is how long a Redis lock lives if it is never released.
const DefaultExpiry = 10 * time.Minute

// Redis is a [Locker] backed by Redis with the Redlock algorithm.
type Redis struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	logger *slog.Logger
}

// RedisConfig configures a [Redis] locker.
type RedisConfig struct {
	Client redis.UniversalClient
	// Prefix is prepended to all keys.
	Prefix string
	// Expiry defaults to DefaultExpiry.
	Expiry time.Duration
	Logger *slog.Logger
}

// NewRedis returns a new Redis locker.
func NewRedis(c RedisConfig) *Redis {
	return &Redis{
		rs:     redsync.New(goredis.NewPool(c.Client)),
		prefix: c.Prefix,
		expiry: cmp.Or(c.Expiry, DefaultExpiry),
		logger: cmp.Or(c.Logger, slog.Default()),
	}
}

// TryLock implements [Locker].
func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	key = r.prefix + key
	m := r.rs.NewMutex(key, redsync.WithExpiry(r.expiry), redsync.WithTries(1))
	if err := m.LockContext(ctx); err != nil {
		if isTaken(err) {
			r.logger.Debug("lock is held by another process", "key", key)
			return nil, false, nil
		}
		return nil, false, err
	}

	unlock := func() {
		ok, err := m.UnlockContext(context.WithoutCancel(ctx))
		if err != nil || !ok {
			r.logger.Warn("failed to release lock", "key", key, "err", err)
		}
	}
	return unlock, true, nil
}

func isTaken(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}

// Local is an in-process [Locker] for a single replica. The zero value is
// ready to use.
type Local struct {
	held syncx.Map[string, struct{}]
}

// TryLock implements [Locker].
func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	if _, taken := l.held.LoadOrStore(key, struct{}{}); taken {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.held.Delete(key) })
	}, true, nil
}

var (
	_ Locker = (*Redis)(nil)
	_ Locker = (*Local)(nil)
)
