package worker

import (
	"context"
	"time"

	"mail_worker/pkg/logger"
)

// =============================================================================
// PeriodicSyncScheduler - 주기적 전체 계정 동기화
// =============================================================================

// Enqueuer queues a sync job for every syncable account.
type Enqueuer interface {
	EnqueueAll(ctx context.Context) (int, error)
}

type PeriodicSyncScheduler struct {
	enqueuer      Enqueuer
	checkInterval time.Duration
	initialDelay  time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewPeriodicSyncScheduler creates a scheduler firing every interval.
func NewPeriodicSyncScheduler(enqueuer Enqueuer, interval time.Duration) *PeriodicSyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicSyncScheduler{
		enqueuer:      enqueuer,
		checkInterval: interval,
		initialDelay:  30 * time.Second, // 서버 안정화 대기
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

func (s *PeriodicSyncScheduler) Start() {
	logger.Info("[PeriodicSyncScheduler] Starting with interval %v", s.checkInterval)
	go s.run()
}

func (s *PeriodicSyncScheduler) Stop() {
	logger.Info("[PeriodicSyncScheduler] Stopping...")
	s.cancel()
	<-s.done
}

func (s *PeriodicSyncScheduler) run() {
	defer close(s.done)

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.initialDelay):
	}
	s.enqueue()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[PeriodicSyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.enqueue()
		}
	}
}

func (s *PeriodicSyncScheduler) enqueue() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	n, err := s.enqueuer.EnqueueAll(ctx)
	if err != nil {
		logger.Error("[PeriodicSyncScheduler] enqueue failed after %d accounts: %v", n, err)
		return
	}
	if n > 0 {
		logger.Info("[PeriodicSyncScheduler] Enqueued %d accounts", n)
	}
}

// SetInitialDelay overrides the startup delay (for testing).
func (s *PeriodicSyncScheduler) SetInitialDelay(d time.Duration) {
	s.initialDelay = d
}

// =============================================================================
// RetryPromoter - 지연 재시도 작업을 스트림으로 이동
// =============================================================================

// DuePromoter moves delayed jobs whose time has come onto the job stream.
type DuePromoter interface {
	PromoteDue(ctx context.Context) (int, error)
}

type RetryPromoter struct {
	promoter      DuePromoter
	checkInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewRetryPromoter(promoter DuePromoter, interval time.Duration) *RetryPromoter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryPromoter{
		promoter:      promoter,
		checkInterval: interval,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

func (r *RetryPromoter) Start() {
	logger.Info("[RetryPromoter] Starting with interval %v", r.checkInterval)
	go r.run()
}

func (r *RetryPromoter) Stop() {
	r.cancel()
	<-r.done
}

func (r *RetryPromoter) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			logger.Info("[RetryPromoter] Stopped")
			return
		case <-ticker.C:
			n, err := r.promoter.PromoteDue(r.ctx)
			if err != nil && r.ctx.Err() == nil {
				logger.Error("[RetryPromoter] promote failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Info("[RetryPromoter] Promoted %d delayed jobs", n)
			}
		}
	}
}
