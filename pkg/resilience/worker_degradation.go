package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mail_worker/pkg/logger"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Feature names used across the worker.
const (
	FeatureEmailSync          = "email_sync"
	FeatureMessageDetail      = "message_detail"
	FeatureAttachmentDownload = "attachment_download"
	FeatureTicketSummary      = "ticket_summary"
)

// FeatureDisabledError is returned by Degrader.Run for a disabled feature.
type FeatureDisabledError struct {
	Feature string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("feature %s is temporarily disabled", e.Feature)
}

// FlagStore persists feature failure counters and disable flags.
type FlagStore interface {
	// IncrFailures bumps the consecutive failure counter and returns it.
	IncrFailures(ctx context.Context, feature string) (int, error)
	ResetFailures(ctx context.Context, feature string) error
	// Disable turns feature off for ttl; ttl <= 0 means until Enable.
	Disable(ctx context.Context, feature string, ttl time.Duration) error
	Enable(ctx context.Context, feature string) error
	IsDisabled(ctx context.Context, feature string) (bool, error)
}

// DegraderConfig tunes automatic disabling.
type DegraderConfig struct {
	FailureThreshold int           // consecutive failures before disabling (default 5)
	DisableFor       time.Duration // automatic re-enable after (default 10m)
}

// Degrader switches individual features off after repeated failures.
// Features are independent: disabling one never affects another.
type Degrader struct {
	store FlagStore
	cfg   DegraderConfig
}

func NewDegrader(store FlagStore, cfg DegraderConfig) *Degrader {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.DisableFor <= 0 {
		cfg.DisableFor = 10 * time.Minute
	}
	return &Degrader{store: store, cfg: cfg}
}

// Enabled reports whether feature may run. Store errors fail open.
func (d *Degrader) Enabled(ctx context.Context, feature string) bool {
	disabled, err := d.store.IsDisabled(ctx, feature)
	if err != nil {
		logger.WithError(err).Warn("[Degrader.Enabled] flag lookup failed for %s", feature)
		return true
	}
	return !disabled
}

// RecordFailure counts a failure and disables the feature at the threshold.
func (d *Degrader) RecordFailure(ctx context.Context, feature string) {
	n, err := d.store.IncrFailures(ctx, feature)
	if err != nil {
		logger.WithError(err).Warn("[Degrader.RecordFailure] counter update failed for %s", feature)
		return
	}
	if n < d.cfg.FailureThreshold {
		return
	}
	if err := d.store.Disable(ctx, feature, d.cfg.DisableFor); err != nil {
		logger.WithError(err).Error("[Degrader.RecordFailure] disable %s failed", feature)
		return
	}
	_ = d.store.ResetFailures(ctx, feature)
	logger.Warn("[Degrader] feature %s disabled for %s after %d failures", feature, d.cfg.DisableFor, n)
}

// RecordSuccess resets the failure streak.
func (d *Degrader) RecordSuccess(ctx context.Context, feature string) {
	if err := d.store.ResetFailures(ctx, feature); err != nil {
		logger.WithError(err).Warn("[Degrader.RecordSuccess] reset failed for %s", feature)
	}
}

// Disable turns feature off until Enable (operator action).
func (d *Degrader) Disable(ctx context.Context, feature string) error {
	return d.store.Disable(ctx, feature, 0)
}

func (d *Degrader) Enable(ctx context.Context, feature string) error {
	if err := d.store.ResetFailures(ctx, feature); err != nil {
		return err
	}
	return d.store.Enable(ctx, feature)
}

// Run executes fn unless feature is disabled, recording the outcome.
// Errors for which countable returns false do not count as failures.
func (d *Degrader) Run(ctx context.Context, feature string, countable func(error) bool, fn func(ctx context.Context) error) error {
	if !d.Enabled(ctx, feature) {
		return &FeatureDisabledError{Feature: feature}
	}
	err := fn(ctx)
	switch {
	case err == nil:
		d.RecordSuccess(ctx, feature)
	case countable == nil || countable(err):
		d.RecordFailure(ctx, feature)
	}
	return err
}

// MemoryFlagStore is a process-local FlagStore.
type MemoryFlagStore struct {
	failures *expirable.LRU[string, int]

	mu       sync.Mutex
	disabled map[string]time.Time // zero time = until enabled
	now      func() time.Time
}

// NewMemoryFlagStore forgets failure streaks after window without failures.
func NewMemoryFlagStore(window time.Duration) *MemoryFlagStore {
	return &MemoryFlagStore{
		failures: expirable.NewLRU[string, int](1024, nil, window),
		disabled: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryFlagStore) IncrFailures(_ context.Context, feature string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := s.failures.Get(feature)
	n++
	s.failures.Add(feature, n)
	return n, nil
}

func (s *MemoryFlagStore) ResetFailures(_ context.Context, feature string) error {
	s.failures.Remove(feature)
	return nil
}

func (s *MemoryFlagStore) Disable(_ context.Context, feature string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var until time.Time
	if ttl > 0 {
		until = s.now().Add(ttl)
	}
	s.disabled[feature] = until
	return nil
}

func (s *MemoryFlagStore) Enable(_ context.Context, feature string) error {
	s.mu.Lock()
	delete(s.disabled, feature)
	s.mu.Unlock()
	return nil
}

func (s *MemoryFlagStore) IsDisabled(_ context.Context, feature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.disabled[feature]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && !s.now().Before(until) {
		delete(s.disabled, feature)
		return false, nil
	}
	return true, nil
}
