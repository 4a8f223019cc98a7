// Package resilience provides fault tolerance patterns for outbound calls:
// retry with backoff, a circuit breaker whose state lives in a shared store,
// and per-feature graceful degradation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mail_worker/pkg/logger"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int32

const (
	StateClosed   CircuitState = iota // Normal operation, requests pass through
	StateOpen                         // Circuit open, requests fail immediately
	StateHalfOpen                     // One probe allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the protected function.
var ErrCircuitOpen = errors.New("circuit breaker is open: service unavailable")

// CircuitOpenError carries the breaker key and when the next probe may run.
type CircuitOpenError struct {
	Key     string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default: 5)
	Cooldown         time.Duration // open duration before half-open (default: 60s)
	StateTTL         time.Duration // idle expiry of stored state (default: 1h)
	// IsFailure decides which errors count against the breaker. Errors for
	// which it returns false are treated as a healthy response.
	IsFailure func(error) bool
	Now       func() time.Time
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		StateTTL:         time.Hour,
		IsFailure:        func(err error) bool { return err != nil },
		Now:              time.Now,
	}
}

// CircuitBreaker implements the circuit breaker pattern over an injected
// StateStore, so every process sharing the store sees the same state.
// Each key (see Key) is an independent circuit.
type CircuitBreaker struct {
	store StateStore
	cfg   CircuitBreakerConfig

	// in-process serialization of read-modify-write per key
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	onStateChange func(key string, from, to CircuitState)
}

// NewCircuitBreaker creates a breaker backed by store.
func NewCircuitBreaker(store StateStore, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = def.StateTTL
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = def.IsFailure
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &CircuitBreaker{
		store: store,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

// Key builds the breaker key for one account's operation.
func Key(accountID int64, operation string) string {
	return fmt.Sprintf("%d:%s", accountID, operation)
}

// OnStateChange sets a callback for state changes.
func (cb *CircuitBreaker) OnStateChange(fn func(key string, from, to CircuitState)) {
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) keyLock(key string) *sync.Mutex {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	l, ok := cb.locks[key]
	if !ok {
		l = &sync.Mutex{}
		cb.locks[key] = l
	}
	return l
}

// State returns the current state for key.
func (cb *CircuitBreaker) State(ctx context.Context, key string) CircuitState {
	st, err := cb.store.Load(ctx, key)
	if err != nil || st == nil {
		return StateClosed
	}
	if st.State == StateOpen && !cb.cfg.Now().Before(st.OpenedAt.Add(cb.cfg.Cooldown)) {
		return StateHalfOpen
	}
	return st.State
}

// Execute runs fn under the circuit for key.
func (cb *CircuitBreaker) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	probing, err := cb.beforeRequest(ctx, key)
	if err != nil {
		return err
	}

	err = fn(ctx)
	cb.afterRequest(ctx, key, probing, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context, key string) (bool, error) {
	lock := cb.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	st, err := cb.store.Load(ctx, key)
	if err != nil {
		// state store outage must not take the mail API down with it
		logger.WithError(err).Warn("[CircuitBreaker] load %s failed, allowing request", key)
		return false, nil
	}
	if st == nil || st.State == StateClosed {
		return false, nil
	}

	now := cb.cfg.Now()
	retryAt := st.OpenedAt.Add(cb.cfg.Cooldown)
	if st.State == StateOpen && now.Before(retryAt) {
		return false, &CircuitOpenError{Key: key, RetryAt: retryAt}
	}

	// cooldown elapsed (or another process already half-opened): one probe only
	claimed, err := cb.store.ClaimProbe(ctx, key, cb.cfg.Cooldown)
	if err != nil || !claimed {
		return false, &CircuitOpenError{Key: key, RetryAt: now.Add(cb.cfg.Cooldown)}
	}
	if st.State != StateHalfOpen {
		from := st.State
		st.State = StateHalfOpen
		cb.save(ctx, key, st)
		cb.notify(key, from, StateHalfOpen)
	}
	return true, nil
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, key string, probing bool, callErr error) {
	lock := cb.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if probing {
		defer func() {
			if err := cb.store.ReleaseProbe(context.WithoutCancel(ctx), key); err != nil {
				logger.WithError(err).Warn("[CircuitBreaker] release probe %s failed", key)
			}
		}()
	}

	// an aborted call says nothing about the remote side
	if ctx.Err() != nil || errors.Is(callErr, context.Canceled) {
		return
	}

	st, err := cb.store.Load(ctx, key)
	if err != nil {
		return
	}
	if st == nil {
		st = &BreakerState{State: StateClosed}
	}
	from := st.State

	if !cb.cfg.IsFailure(callErr) {
		if st.State == StateClosed && st.Failures == 0 {
			return
		}
		st.State = StateClosed
		st.Failures = 0
		st.OpenedAt = time.Time{}
		cb.save(ctx, key, st)
		cb.notify(key, from, StateClosed)
		return
	}

	st.Failures++
	st.LastFailure = cb.cfg.Now()
	if probing || st.State == StateHalfOpen || st.Failures >= cb.cfg.FailureThreshold {
		st.State = StateOpen
		st.OpenedAt = st.LastFailure
	}
	cb.save(ctx, key, st)
	cb.notify(key, from, st.State)
}

func (cb *CircuitBreaker) save(ctx context.Context, key string, st *BreakerState) {
	if err := cb.store.Save(ctx, key, st, cb.cfg.StateTTL); err != nil {
		logger.WithError(err).Warn("[CircuitBreaker] save %s failed", key)
	}
}

func (cb *CircuitBreaker) notify(key string, from, to CircuitState) {
	if from == to {
		return
	}
	logger.WithFields(map[string]any{"breaker": key, "from": from.String(), "to": to.String()}).
		Warn("[CircuitBreaker] state change")
	if cb.onStateChange != nil {
		cb.onStateChange(key, from, to)
	}
}

// Reset forces key back to closed.
func (cb *CircuitBreaker) Reset(ctx context.Context, key string) error {
	return cb.store.Delete(ctx, key)
}

// CircuitBreakerStats is a snapshot of one circuit.
type CircuitBreakerStats struct {
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Stats returns current statistics for key.
func (cb *CircuitBreaker) Stats(ctx context.Context, key string) CircuitBreakerStats {
	stats := CircuitBreakerStats{Key: key, State: cb.State(ctx, key).String()}
	if st, err := cb.store.Load(ctx, key); err == nil && st != nil {
		stats.Failures = st.Failures
		stats.LastFailure = st.LastFailure
	}
	return stats
}
