// Package redisstore holds Redis-backed implementations of the resilience stores,
// the account lease and the OAuth state store.
package redisstore

import (
	"context"
	"errors"
	"time"

	"mail_worker/pkg/cache"
	"mail_worker/pkg/resilience"
)

const (
	breakerPrefix = "cb:state:"
	probePrefix   = "cb:probe:"
	flagPrefix    = "feature:disabled:"
	failurePrefix = "feature:failures:"
)

// BreakerStateStore shares circuit breaker state across worker processes.
type BreakerStateStore struct {
	cache *cache.RedisCache
}

func NewBreakerStateStore(c *cache.RedisCache) *BreakerStateStore {
	return &BreakerStateStore{cache: c}
}

func (s *BreakerStateStore) Load(ctx context.Context, key string) (*resilience.BreakerState, error) {
	var st resilience.BreakerState
	found, err := s.cache.GetJSON(ctx, breakerPrefix+key, &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

func (s *BreakerStateStore) Save(ctx context.Context, key string, st *resilience.BreakerState, ttl time.Duration) error {
	return s.cache.SetJSON(ctx, breakerPrefix+key, st, ttl)
}

func (s *BreakerStateStore) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, breakerPrefix+key)
}

func (s *BreakerStateStore) ClaimProbe(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, probePrefix+key, "1", ttl)
}

func (s *BreakerStateStore) ReleaseProbe(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, probePrefix+key)
}

// FlagStore keeps feature degradation flags in Redis so every worker sees
// the same disabled set.
type FlagStore struct {
	cache  *cache.RedisCache
	window time.Duration
}

// NewFlagStore forgets failure streaks after window without failures.
func NewFlagStore(c *cache.RedisCache, window time.Duration) *FlagStore {
	return &FlagStore{cache: c, window: window}
}

func (s *FlagStore) IncrFailures(ctx context.Context, feature string) (int, error) {
	n, err := s.cache.IncrWithTTL(ctx, failurePrefix+feature, s.window)
	return int(n), err
}

func (s *FlagStore) ResetFailures(ctx context.Context, feature string) error {
	return s.cache.Delete(ctx, failurePrefix+feature)
}

func (s *FlagStore) Disable(ctx context.Context, feature string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.cache.Set(ctx, flagPrefix+feature, time.Now().UTC().Format(time.RFC3339), ttl)
}

func (s *FlagStore) Enable(ctx context.Context, feature string) error {
	return s.cache.Delete(ctx, flagPrefix+feature)
}

func (s *FlagStore) IsDisabled(ctx context.Context, feature string) (bool, error) {
	_, err := s.cache.Get(ctx, flagPrefix+feature)
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var (
	_ resilience.StateStore = (*BreakerStateStore)(nil)
	_ resilience.FlagStore  = (*FlagStore)(nil)
)
