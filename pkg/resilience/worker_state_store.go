package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BreakerState is the persisted state of one circuit.
type BreakerState struct {
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	OpenedAt    time.Time    `json:"opened_at"`
	LastFailure time.Time    `json:"last_failure"`
}

// StateStore holds breaker state shared between processes. Entries expire
// after ttl without writes; a missing entry means closed.
type StateStore interface {
	Load(ctx context.Context, key string) (*BreakerState, error)
	Save(ctx context.Context, key string, st *BreakerState, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ClaimProbe grants the single half-open probe to one caller for ttl.
	ClaimProbe(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseProbe(ctx context.Context, key string) error
}

// MemoryStateStore is a process-local StateStore backed by an expiring LRU.
type MemoryStateStore struct {
	states *expirable.LRU[string, BreakerState]

	mu     sync.Mutex
	probes map[string]time.Time
	now    func() time.Time
}

// NewMemoryStateStore keeps at most size circuits, each expiring ttl after
// its last write.
func NewMemoryStateStore(size int, ttl time.Duration) *MemoryStateStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStateStore{
		states: expirable.NewLRU[string, BreakerState](size, nil, ttl),
		probes: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryStateStore) Load(_ context.Context, key string) (*BreakerState, error) {
	st, ok := s.states.Get(key)
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// Save ignores ttl; the LRU was built with a fixed expiry.
func (s *MemoryStateStore) Save(_ context.Context, key string, st *BreakerState, _ time.Duration) error {
	s.states.Add(key, *st)
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.states.Remove(key)
	return nil
}

func (s *MemoryStateStore) ClaimProbe(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.probes[key]; ok && now.Before(until) {
		return false, nil
	}
	s.probes[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStateStore) ReleaseProbe(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.probes, key)
	s.mu.Unlock()
	return nil
}
