package worker

import (
	"context"
	"errors"
	"fmt"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	mailsync "mail_worker/core/service/sync"
	"mail_worker/pkg/logger"
)

// ReauthMarker flags an account whose refresh token was revoked.
type ReauthMarker interface {
	MarkReauthRequired(ctx context.Context, accountID int64) error
}

// SyncProcessor runs sync jobs and decides what happens to failed ones.
type SyncProcessor struct {
	syncs     in.SyncService
	reauth    ReauthMarker
	scheduler out.SyncJobScheduler
}

// NewSyncProcessor creates a new sync processor. A nil scheduler hands
// retryable failures back to the pool.
func NewSyncProcessor(syncs in.SyncService, reauth ReauthMarker, scheduler out.SyncJobScheduler) *SyncProcessor {
	return &SyncProcessor{
		syncs:     syncs,
		reauth:    reauth,
		scheduler: scheduler,
	}
}

// ProcessSync runs one account sync.
func (p *SyncProcessor) ProcessSync(ctx context.Context, msg *Message) error {
	job := msg.Job
	if job == nil || job.AccountID <= 0 {
		logger.Warn("[SyncProcessor.ProcessSync] dropping job %s without account", msg.ID)
		return nil
	}

	logger.Info("[SyncProcessor.ProcessSync] account=%d, folder=%q, limit=%d, attempt=%d",
		job.AccountID, job.Options.FolderFilter, job.Options.Limit, job.Attempt)

	result, err := p.syncs.SyncAccount(ctx, job.AccountID, job.Options)
	if err == nil {
		logger.Info("[SyncProcessor.ProcessSync] account=%d status=%s created=%d updated=%d",
			job.AccountID, result.Status, result.Created, result.Updated)
		return nil
	}

	switch {
	case errors.Is(err, mailsync.ErrSyncInProgress):
		logger.Info("[SyncProcessor.ProcessSync] account %d already syncing, skipped", job.AccountID)
		return nil
	case errors.Is(err, mailsync.ErrAccountInactive), errors.Is(err, out.ErrNotFound):
		logger.Info("[SyncProcessor.ProcessSync] account %d not syncable, skipped", job.AccountID)
		return nil
	case errors.Is(err, mailsync.ErrFolderNotFound):
		logger.Warn("[SyncProcessor.ProcessSync] account %d: %v", job.AccountID, err)
		return nil
	case out.IsAccountFatal(err):
		// 재인증 필요: 재시도하지 않음
		if p.reauth != nil {
			if markErr := p.reauth.MarkReauthRequired(context.WithoutCancel(ctx), job.AccountID); markErr != nil {
				logger.WithError(markErr).Error("[SyncProcessor.ProcessSync] mark reauth failed for account %d", job.AccountID)
			}
		}
		logger.Warn("[SyncProcessor.ProcessSync] account %d requires reauthorization", job.AccountID)
		return nil
	}

	return p.retry(ctx, job, err)
}

// retry re-enqueues job on the backoff ladder. Without a scheduler the error
// is returned so the pool retries in memory.
func (p *SyncProcessor) retry(ctx context.Context, job *domain.SyncJob, cause error) error {
	if p.scheduler == nil {
		return cause
	}
	if job.Attempt >= len(domain.RetryDelays) {
		logger.WithError(cause).Error("[SyncProcessor.retry] account %d gave up after %d attempts", job.AccountID, job.Attempt)
		return nil
	}

	delay := domain.GetRetryDelay(job.Attempt)
	if hint := out.RetryAfterOf(cause); hint > delay {
		delay = hint
	}
	next := &domain.SyncJob{
		AccountID: job.AccountID,
		Options:   job.Options,
		Attempt:   job.Attempt + 1,
	}
	if err := p.scheduler.ScheduleSyncJob(context.WithoutCancel(ctx), next, delay); err != nil {
		return fmt.Errorf("schedule retry for account %d: %w (cause: %v)", job.AccountID, err, cause)
	}

	logger.WithError(cause).Warn("[SyncProcessor.retry] account %d retry %d in %v", job.AccountID, next.Attempt, delay)
	return nil
}

// ProcessSyncAll enqueues a sync job for every syncable account.
func (p *SyncProcessor) ProcessSyncAll(ctx context.Context, msg *Message) error {
	n, err := p.syncs.EnqueueAll(ctx)
	if err != nil {
		return fmt.Errorf("enqueue all: %w", err)
	}
	logger.Info("[SyncProcessor.ProcessSyncAll] enqueued %d accounts", n)
	return nil
}
