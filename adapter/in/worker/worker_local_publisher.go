package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
)

var (
	ErrPoolNotBound = errors.New("local publisher has no worker pool")
	ErrQueueFull    = errors.New("worker pool rejected the job")
)

// LocalPublisher feeds sync jobs straight into the in-process pool. It is
// used when Redis is not configured.
type LocalPublisher struct {
	mu     sync.Mutex
	pool   *Pool
	timers map[*time.Timer]struct{}
	now    func() time.Time
}

func NewLocalPublisher() *LocalPublisher {
	return &LocalPublisher{
		timers: make(map[*time.Timer]struct{}),
		now:    time.Now,
	}
}

// Bind sets the pool jobs are submitted to.
func (l *LocalPublisher) Bind(p *Pool) {
	l.mu.Lock()
	l.pool = p
	l.mu.Unlock()
}

func (l *LocalPublisher) PublishSyncJob(ctx context.Context, job *domain.SyncJob) error {
	l.mu.Lock()
	p := l.pool
	l.mu.Unlock()
	if p == nil {
		return ErrPoolNotBound
	}

	j := *job
	j.EnqueuedAt = l.now().UTC()
	if !p.Submit(NewMessage(JobMailSync, &j)) {
		return ErrQueueFull
	}
	return nil
}

// ScheduleSyncJob publishes job after delay. Pending timers are dropped by Stop.
func (l *LocalPublisher) ScheduleSyncJob(ctx context.Context, job *domain.SyncJob, delay time.Duration) error {
	if delay <= 0 {
		return l.PublishSyncJob(ctx, job)
	}

	j := *job
	l.mu.Lock()
	defer l.mu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		_ = l.PublishSyncJob(context.Background(), &j)
	})
	l.timers[t] = struct{}{}
	return nil
}

// Pending returns the number of scheduled jobs not yet published.
func (l *LocalPublisher) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Stop cancels all scheduled jobs.
func (l *LocalPublisher) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for t := range l.timers {
		t.Stop()
		delete(l.timers, t)
	}
}

var (
	_ out.SyncJobPublisher = (*LocalPublisher)(nil)
	_ out.SyncJobScheduler = (*LocalPublisher)(nil)
)
