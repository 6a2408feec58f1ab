// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package dedup remembers recently seen keys, such as Telegram update IDs,
// to process each of them once.
package dedup

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Set is a set of recently seen keys.
type Set interface {
	// Seen marks key as seen and reports whether it was seen before.
	Seen(ctx context.Context, key string) (bool, error)
}

// DefaultTTL is how long keys are remembered by default.
const DefaultTTL = 24 * time.Hour

// Redis is a [Set] stored in Redis, shared between replicas.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a new Redis set. Keys are prefixed with prefix and
// expire after ttl, or DefaultTTL if it is zero.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    cmp.Or(ttl, DefaultTTL),
	}
}

// Seen implements [Set].
func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	added, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return !added, nil
}

// Mem is an in-memory [Set].
type Mem struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // key -> expiration
}

// NewMem returns a new in-memory set that remembers keys for ttl, or
// DefaultTTL if it is zero. Expired keys are removed in the background until
// ctx is canceled.
func NewMem(ctx context.Context, ttl time.Duration) *Mem {
	m := newMem(ttl, time.Now)
	go m.cleanupLoop(ctx)
	return m
}

func newMem(ttl time.Duration, now func() time.Time) *Mem {
	return &Mem{
		ttl:  cmp.Or(ttl, DefaultTTL),
		now:  now,
		seen: make(map[string]time.Time),
	}
}

// Seen implements [Set].
func (m *Mem) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	m.seen[key] = now.Add(m.ttl)
	return false, nil
}

func (m *Mem) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(max(m.ttl/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *Mem) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, exp := range m.seen {
		if !now.Before(exp) {
			delete(m.seen, key)
		}
	}
}

var (
	_ Set = (*Redis)(nil)
	_ Set = (*Mem)(nil)
)
