package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mail_worker/core/port/out"
	"mail_worker/pkg/cache"

	"github.com/google/uuid"
)

// oauthStatePrefix Redis key prefix for OAuth state
const oauthStatePrefix = "oauth:state:"

var errEmptyState = errors.New("state cannot be empty")

// OAuthStateStore Redis 기반 OAuth state 저장소 (CSRF 보호)
type OAuthStateStore struct {
	cache *cache.RedisCache
}

func NewOAuthStateStore(c *cache.RedisCache) *OAuthStateStore {
	return &OAuthStateStore{cache: c}
}

func (s *OAuthStateStore) Save(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	if err := validateState(state, userID); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, oauthStatePrefix+state, userID.String(), ttl); err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	return nil
}

// Consume uses GETDEL so a state value can only be redeemed once.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (uuid.UUID, error) {
	if state == "" {
		return uuid.Nil, errEmptyState
	}
	raw, err := s.cache.GetDel(ctx, oauthStatePrefix+state)
	if errors.Is(err, cache.ErrMiss) {
		return uuid.Nil, out.ErrStateNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume oauth state: %w", err)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id in state: %w", err)
	}
	return userID, nil
}

// MemoryOAuthStateStore is used when Redis is not configured.
type MemoryOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	clock  func() time.Time
}

type memoryState struct {
	userID  uuid.UUID
	expires time.Time
}

func NewMemoryOAuthStateStore() *MemoryOAuthStateStore {
	return &MemoryOAuthStateStore{states: make(map[string]memoryState), clock: time.Now}
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	if err := validateState(state, userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	// 만료된 state 정리
	for k, st := range s.states {
		if now.After(st.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = memoryState{userID: userID, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (uuid.UUID, error) {
	if state == "" {
		return uuid.Nil, errEmptyState
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	delete(s.states, state)
	if !ok || s.clock().After(st.expires) {
		return uuid.Nil, out.ErrStateNotFound
	}
	return st.userID, nil
}

func validateState(state string, userID uuid.UUID) error {
	if state == "" {
		return errEmptyState
	}
	if userID == uuid.Nil {
		return errors.New("userID cannot be nil")
	}
	return nil
}

var (
	_ out.OAuthStateStore = (*OAuthStateStore)(nil)
	_ out.OAuthStateStore = (*MemoryOAuthStateStore)(nil)
)
