package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mail_worker/core/port/out"
	"mail_worker/pkg/cache"

	"github.com/google/uuid"
)

const leasePrefix = "sync:lease:"

// RedisAccountLocker implements AccountLocker with SET NX PX and a
// token-checked release, so a worker never frees another worker's lease.
type RedisAccountLocker struct {
	cache *cache.RedisCache
}

func NewRedisAccountLocker(c *cache.RedisCache) *RedisAccountLocker {
	return &RedisAccountLocker{cache: c}
}

func (l *RedisAccountLocker) TryAcquire(ctx context.Context, accountID int64, ttl time.Duration) (out.Lease, error) {
	key := fmt.Sprintf("%s%d", leasePrefix, accountID)
	token := uuid.NewString()
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, out.ErrLeaseHeld
	}
	return &redisLease{cache: l.cache, key: key, token: token}, nil
}

type redisLease struct {
	cache *cache.RedisCache
	key   string
	token string
}

func (r *redisLease) Release(ctx context.Context) error {
	_, err := r.cache.DeleteIfEquals(ctx, r.key, r.token)
	return err
}

// MemoryAccountLocker is the single-process AccountLocker.
type MemoryAccountLocker struct {
	mu    sync.Mutex
	held  map[int64]time.Time
	clock func() time.Time
}

func NewMemoryAccountLocker() *MemoryAccountLocker {
	return &MemoryAccountLocker{held: make(map[int64]time.Time), clock: time.Now}
}

func (l *MemoryAccountLocker) TryAcquire(_ context.Context, accountID int64, ttl time.Duration) (out.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[accountID]; ok && now.Before(until) {
		return nil, out.ErrLeaseHeld
	}
	until := now.Add(ttl)
	l.held[accountID] = until
	return &memoryLease{locker: l, accountID: accountID, until: until}, nil
}

type memoryLease struct {
	locker    *MemoryAccountLocker
	accountID int64
	until     time.Time
	once      sync.Once
}

func (m *memoryLease) Release(context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		if cur, ok := m.locker.held[m.accountID]; ok && cur.Equal(m.until) {
			delete(m.locker.held, m.accountID)
		}
		m.locker.mu.Unlock()
	})
	return nil
}

var (
	_ out.AccountLocker = (*RedisAccountLocker)(nil)
	_ out.AccountLocker = (*MemoryAccountLocker)(nil)
)
