// Package mailsync mirrors provider folders and messages into local storage.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"

	"github.com/google/uuid"
)

var (
	ErrSyncInProgress  = errors.New("sync already in progress for this account")
	ErrAccountInactive = errors.New("account is inactive or sync is disabled")
	ErrFolderNotFound  = errors.New("no folder matches the filter")
)

// Config tunes a Service.
type Config struct {
	PageSize     int           // messages per listing request, at most out.MaxPageSize
	LeaseTTL     time.Duration // per-account lease
	Completeness CompletenessPolicy
}

func DefaultConfig() Config {
	return Config{
		PageSize:     out.MaxPageSize,
		LeaseTTL:     30 * time.Minute,
		Completeness: DefaultCompletenessPolicy(),
	}
}

// Deps are the ports a Service works against. Archive, Degrader and
// Publisher are optional.
type Deps struct {
	Accounts  out.AccountRepository
	Folders   out.FolderRepository
	Emails    out.EmailRepository
	Threads   out.ThreadRepository
	Logs      out.SyncLogRepository
	Archive   out.SyncLogArchive
	API       out.MailSyncer
	Locker    out.AccountLocker
	Degrader  *resilience.Degrader
	Publisher out.SyncJobPublisher
}

// =============================================================================
// Service - 계정 단위 동기화 (폴더 → 메일)
// =============================================================================

type Service struct {
	accounts  out.AccountRepository
	folders   out.FolderRepository
	emails    out.EmailRepository
	threads   out.ThreadRepository
	logs      out.SyncLogRepository
	archive   out.SyncLogArchive
	api       out.MailSyncer
	locker    out.AccountLocker
	degrader  *resilience.Degrader
	publisher out.SyncJobPublisher

	cfg Config
	now func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.PageSize <= 0 || cfg.PageSize > out.MaxPageSize {
		cfg.PageSize = def.PageSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.Completeness.MinBodyLength <= 0 && len(cfg.Completeness.Ellipses) == 0 && len(cfg.Completeness.MoreMarkers) == 0 {
		cfg.Completeness = def.Completeness
	}
	return &Service{
		accounts:  deps.Accounts,
		folders:   deps.Folders,
		emails:    deps.Emails,
		threads:   deps.Threads,
		logs:      deps.Logs,
		archive:   deps.Archive,
		api:       deps.API,
		locker:    deps.Locker,
		degrader:  deps.Degrader,
		publisher: deps.Publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// run is the mutable state of one SyncAccount call.
type run struct {
	acc       *domain.Account
	opts      domain.SyncOptions
	result    *domain.SyncResult
	remaining int // -1 = unlimited

	dirtyFolders map[int64]struct{}
	dirtyThreads map[int64]struct{}

	degraded       bool
	foldersOK      int
	folderFailures int
	lastFolderErr  error
}

func (r *run) capReached() bool { return r.remaining == 0 }

type outcome int

const (
	unchanged outcome = iota
	created
	updated
)

// SyncAccount runs folder sync followed by email sync for one account.
// The returned result is non-nil whenever a sync log was opened, including
// on error.
func (s *Service) SyncAccount(ctx context.Context, accountID int64, opts domain.SyncOptions) (*domain.SyncResult, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	if !acc.IsActive || !acc.SyncEnabled {
		return nil, ErrAccountInactive
	}

	lease, err := s.locker.TryAcquire(ctx, accountID, s.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, out.ErrLeaseHeld) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			logger.WithError(err).Warn("[SyncService.SyncAccount] lease release failed for account %d", accountID)
		}
	}()

	log := &domain.SyncLog{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Status:    domain.SyncStatusRunning,
		StartedAt: s.now().UTC(),
	}
	if err := s.logs.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	r := &run{
		acc:          acc,
		opts:         opts,
		result:       &domain.SyncResult{LogID: log.ID, AccountID: accountID, Status: domain.SyncStatusRunning},
		remaining:    -1,
		dirtyFolders: make(map[int64]struct{}),
		dirtyThreads: make(map[int64]struct{}),
	}
	if opts.Limit > 0 {
		r.remaining = opts.Limit
	}

	logger.WithFields(map[string]any{
		"account_id": accountID,
		"log_id":     log.ID,
		"folder":     opts.FolderFilter,
		"limit":      opts.Limit,
	}).Info("[SyncService.SyncAccount] started")

	runErr := s.syncAll(ctx, r)
	s.flush(ctx, r)

	return s.finish(ctx, r, log, runErr)
}

// ListSyncLogs returns the newest logs of an account.
func (s *Service) ListSyncLogs(ctx context.Context, accountID int64, limit int) ([]*domain.SyncLog, error) {
	return s.logs.ListByAccount(ctx, accountID, limit)
}

// EnqueueAll publishes one sync job per syncable account.
func (s *Service) EnqueueAll(ctx context.Context) (int, error) {
	if s.publisher == nil {
		return 0, errors.New("sync job publisher not configured")
	}
	accounts, err := s.accounts.ListSyncable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list syncable accounts: %w", err)
	}
	n := 0
	for _, acc := range accounts {
		job := &domain.SyncJob{AccountID: acc.ID, EnqueuedAt: s.now().UTC()}
		if err := s.publisher.PublishSyncJob(ctx, job); err != nil {
			return n, fmt.Errorf("publish sync job for account %d: %w", acc.ID, err)
		}
		n++
	}
	return n, nil
}

// =============================================================================
// Phases
// =============================================================================

func (s *Service) syncAll(ctx context.Context, r *run) error {
	// 1. 폴더 동기화
	folders, err := s.syncFolders(ctx, r)
	if err != nil {
		return err
	}

	// 2. 메일 동기화 (기능 차단 시 폴더까지만)
	if s.degrader != nil && !s.degrader.Enabled(ctx, resilience.FeatureEmailSync) {
		r.degraded = true
		logger.Warn("[SyncService.syncAll] email_sync is disabled, account %d synced folders only", r.acc.ID)
		return nil
	}

	targets, err := selectFolders(folders, r.opts.FolderFilter)
	if err != nil {
		return err
	}

	for _, f := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.capReached() {
			break
		}

		fr, err := s.syncFolder(ctx, r, f)
		r.result.Folders = append(r.result.Folders, fr)
		r.result.SyncCounts.Add(fr.SyncCounts)
		s.flush(ctx, r)

		if err != nil {
			if out.IsAccountFatal(err) || ctx.Err() != nil {
				return err
			}
			r.folderFailures++
			r.lastFolderErr = err
			logger.WithError(err).Warn("[SyncService.syncAll] folder %s of account %d aborted", f.Name, r.acc.ID)
			continue
		}
		r.foldersOK++
	}

	if r.folderFailures > 0 && r.foldersOK == 0 {
		return fmt.Errorf("all %d folders failed: %w", r.folderFailures, r.lastFolderErr)
	}
	return nil
}

func (s *Service) syncFolders(ctx context.Context, r *run) ([]*domain.Folder, error) {
	dtos, err := s.api.ListFolders(ctx, r.acc)
	if err != nil {
		return nil, err
	}

	folders := make([]*domain.Folder, 0, len(dtos))
	for _, d := range dtos {
		f := &domain.Folder{
			AccountID:        r.acc.ID,
			ProviderFolderID: d.FolderID,
			Name:             d.Name,
			Path:             d.Path,
			Type:             domain.ParseFolderType(d.Type, d.Name),
		}
		if err := s.folders.Upsert(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.result.Errors++
			logger.WithError(err).Warn("[SyncService.syncFolders] upsert folder %s failed", d.FolderID)
			continue
		}
		r.dirtyFolders[f.ID] = struct{}{}
		folders = append(folders, f)
	}
	return folders, nil
}

// selectFolders matches filter against provider id, name or path.
func selectFolders(folders []*domain.Folder, filter string) ([]*domain.Folder, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return folders, nil
	}
	for _, f := range folders {
		if f.ProviderFolderID == filter || strings.EqualFold(f.Name, filter) || strings.EqualFold(f.Path, filter) {
			return []*domain.Folder{f}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrFolderNotFound, filter)
}

func (s *Service) syncFolder(ctx context.Context, r *run, f *domain.Folder) (domain.FolderSyncResult, error) {
	fr := domain.FolderSyncResult{FolderID: f.ID, ProviderFolderID: f.ProviderFolderID, Name: f.Name}
	r.dirtyFolders[f.ID] = struct{}{}

	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return fr, err
		}
		limit := s.cfg.PageSize
		if r.remaining >= 0 && r.remaining < limit {
			limit = r.remaining
		}
		if limit <= 0 {
			return fr, nil
		}

		page, err := s.api.ListMessages(ctx, r.acc, f.ProviderFolderID, limit, start)
		if err != nil {
			fr.Error = err.Error()
			return fr, err
		}
		fr.Pages++

		for i := range page {
			if err := ctx.Err(); err != nil {
				return fr, err
			}
			m := &page[i]
			if !r.opts.InWindow(m.ReceivedAt) {
				continue
			}
			fr.Fetched++
			if r.remaining > 0 {
				r.remaining--
			}

			res, err := s.upsertMessage(ctx, r, f, m)
			switch {
			case err == nil:
				switch res {
				case created:
					fr.Created++
				case updated:
					fr.Updated++
				}
			case out.IsAccountFatal(err) || ctx.Err() != nil:
				fr.Error = err.Error()
				return fr, err
			default:
				fr.Errors++
				logger.WithError(err).Warn("[SyncService.syncFolder] message %s in folder %s skipped", m.MessageID, f.Name)
			}

			if r.capReached() {
				return fr, nil
			}
		}

		if len(page) < limit {
			return fr, nil
		}
		start += len(page)
	}
}

// =============================================================================
// Per-message upsert
// =============================================================================

func (s *Service) upsertMessage(ctx context.Context, r *run, f *domain.Folder, m *domain.MessageDTO) (outcome, error) {
	if m.MessageID == "" {
		return unchanged, errors.New("message without provider id")
	}

	existing, err := s.emails.GetByProviderMessageID(ctx, m.MessageID)
	switch {
	case err == nil:
		return s.updateEmail(ctx, r, f, existing, m)
	case !errors.Is(err, out.ErrNotFound):
		return unchanged, fmt.Errorf("lookup message %s: %w", m.MessageID, err)
	}

	if s.cfg.Completeness.NeedsDetail(m) {
		if err := s.completeBody(ctx, r, f, m); err != nil {
			return unchanged, err
		}
	}

	e := newEmail(r.acc.ID, f.ID, m, s.now())
	if m.ThreadID != "" {
		t, err := s.threads.GetOrCreate(ctx, r.acc.ID, m.ThreadID, m.Subject)
		if err != nil {
			return unchanged, fmt.Errorf("thread %s: %w", m.ThreadID, err)
		}
		e.ThreadID = &t.ID
	}

	if err := s.emails.Create(ctx, e); err != nil {
		if !errors.Is(err, out.ErrDuplicate) {
			return unchanged, fmt.Errorf("create message %s: %w", m.MessageID, err)
		}
		// inserted concurrently, fall back to the update path
		existing, err := s.emails.GetByProviderMessageID(ctx, m.MessageID)
		if err != nil {
			return unchanged, fmt.Errorf("reload message %s: %w", m.MessageID, err)
		}
		return s.updateEmail(ctx, r, f, existing, m)
	}
	if e.ThreadID != nil {
		r.dirtyThreads[*e.ThreadID] = struct{}{}
	}
	return created, nil
}

// updateEmail only touches flags, the folder reference, a missing thread link
// and bodies that grew.
func (s *Service) updateEmail(ctx context.Context, r *run, f *domain.Folder, e *domain.Email, m *domain.MessageDTO) (outcome, error) {
	if e.AccountID != r.acc.ID {
		return unchanged, fmt.Errorf("message %s belongs to account %d", m.MessageID, e.AccountID)
	}

	changed := false
	if e.IsRead != m.IsRead || e.IsStarred != m.IsStarred || e.IsImportant != m.IsImportant {
		e.IsRead, e.IsStarred, e.IsImportant = m.IsRead, m.IsStarred, m.IsImportant
		changed = true
	}
	if e.FolderID != f.ID {
		r.dirtyFolders[e.FolderID] = struct{}{}
		e.FolderID = f.ID
		changed = true
	}
	if m.BodyLength() > e.BodyLength() {
		e.BodyText, e.BodyHTML = m.BodyText, m.BodyHTML
		changed = true
	}
	if e.ThreadID == nil && m.ThreadID != "" {
		t, err := s.threads.GetOrCreate(ctx, r.acc.ID, m.ThreadID, m.Subject)
		if err != nil {
			return unchanged, fmt.Errorf("thread %s: %w", m.ThreadID, err)
		}
		e.ThreadID = &t.ID
		e.ProviderThreadID = m.ThreadID
		changed = true
	}
	if !changed {
		return unchanged, nil
	}

	if err := s.emails.UpdateSyncFields(ctx, e); err != nil {
		return unchanged, fmt.Errorf("update message %s: %w", m.MessageID, err)
	}
	if e.ThreadID != nil {
		r.dirtyThreads[*e.ThreadID] = struct{}{}
	}
	return updated, nil
}

// completeBody replaces the listing body with the detail body when the
// detail is strictly longer. Only account-fatal and cancellation errors are
// returned; other detail failures keep the listing body.
func (s *Service) completeBody(ctx context.Context, r *run, f *domain.Folder, m *domain.MessageDTO) error {
	var detail *domain.MessageDTO
	err := s.gate(ctx, resilience.FeatureMessageDetail, func(ctx context.Context) error {
		d, err := s.api.GetMessageDetail(ctx, r.acc, f.ProviderFolderID, m.MessageID)
		detail = d
		return err
	})

	var disabled *resilience.FeatureDisabledError
	switch {
	case err == nil:
	case errors.As(err, &disabled):
		return nil
	case out.IsAccountFatal(err) || ctx.Err() != nil:
		return err
	default:
		logger.WithError(err).Debug("[SyncService.completeBody] detail fetch failed for %s, keeping listing body", m.MessageID)
		return nil
	}

	if detail != nil && detail.BodyLength() > m.BodyLength() {
		m.BodyText, m.BodyHTML = detail.BodyText, detail.BodyHTML
	}
	return nil
}

func (s *Service) gate(ctx context.Context, feature string, fn func(ctx context.Context) error) error {
	if s.degrader == nil {
		return fn(ctx)
	}
	return s.degrader.Run(ctx, feature, isOutage, fn)
}

// isOutage reports provider-side failures that count towards degradation.
func isOutage(err error) bool {
	return out.IsRetryable(err) || errors.Is(err, resilience.ErrCircuitOpen)
}

func newEmail(accountID, folderID int64, m *domain.MessageDTO, now time.Time) *domain.Email {
	received := m.ReceivedAt
	if received.IsZero() {
		received = now.UTC()
	}
	return &domain.Email{
		AccountID:         accountID,
		FolderID:          folderID,
		ProviderMessageID: m.MessageID,
		ProviderThreadID:  m.ThreadID,
		FromEmail:         domain.NormalizeAddress(m.FromEmail),
		FromName:          m.FromName,
		To:                m.To,
		Cc:                m.Cc,
		Subject:           m.Subject,
		BodyText:          m.BodyText,
		BodyHTML:          m.BodyHTML,
		IsRead:            m.IsRead,
		IsStarred:         m.IsStarred,
		IsImportant:       m.IsImportant,
		HasAttachment:     m.HasAttachment,
		SentAt:            m.SentAt,
		ReceivedAt:        received,
	}
}

// =============================================================================
// Aggregates & finalization
// =============================================================================

// flush recomputes thread stats and folder counts touched since the last
// flush. It runs even after cancellation so stored aggregates stay valid.
func (s *Service) flush(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	for id := range r.dirtyThreads {
		if err := s.recomputeThread(ctx, id); err != nil {
			logger.WithError(err).Warn("[SyncService.flush] thread %d recompute failed", id)
		}
		delete(r.dirtyThreads, id)
	}
	for id := range r.dirtyFolders {
		if _, err := s.folders.RecomputeCounts(ctx, id); err != nil {
			logger.WithError(err).Warn("[SyncService.flush] folder %d recount failed", id)
		}
		delete(r.dirtyFolders, id)
	}
}

func (s *Service) recomputeThread(ctx context.Context, threadID int64) error {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	members, err := s.emails.ListByThread(ctx, threadID)
	if err != nil {
		return err
	}
	t.Recompute(members)
	return s.threads.UpdateStats(ctx, t)
}

func (s *Service) finish(ctx context.Context, r *run, log *domain.SyncLog, runErr error) (*domain.SyncResult, error) {
	fctx := context.WithoutCancel(ctx)
	status, retErr := s.classify(ctx, r, runErr)
	now := s.now().UTC()

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	} else if r.lastFolderErr != nil {
		errText = r.lastFolderErr.Error()
	}

	r.result.Status = status
	r.result.Error = errText
	log.Finalize(status, r.result.SyncCounts, errText, now)
	r.result.Duration = log.Duration

	if err := s.logs.Finalize(fctx, log); err != nil {
		logger.WithError(err).Error("[SyncService.finish] finalize log %s failed", log.ID)
	}
	if s.archive != nil {
		if err := s.archive.Archive(fctx, log); err != nil {
			logger.WithError(err).Warn("[SyncService.finish] archive log %s failed", log.ID)
		}
	}

	switch status {
	case domain.SyncStatusSuccess, domain.SyncStatusPartial:
		if err := s.accounts.MarkSynced(fctx, r.acc.ID, now); err != nil {
			logger.WithError(err).Warn("[SyncService.finish] mark synced failed for account %d", r.acc.ID)
		} else {
			r.acc.LastSyncAt = &now
		}
		if s.degrader != nil && !r.degraded {
			s.degrader.RecordSuccess(fctx, resilience.FeatureEmailSync)
		}
	case domain.SyncStatusFailed:
		if s.degrader != nil && isOutage(runErr) {
			s.degrader.RecordFailure(fctx, resilience.FeatureEmailSync)
		}
	}

	logger.WithFields(map[string]any{
		"account_id": r.acc.ID,
		"log_id":     log.ID,
		"status":     string(status),
		"fetched":    r.result.Fetched,
		"created":    r.result.Created,
		"updated":    r.result.Updated,
		"errors":     r.result.Errors,
	}).WithDuration(log.Duration).Info("[SyncService.SyncAccount] finished")

	return r.result, retErr
}

func (s *Service) classify(ctx context.Context, r *run, runErr error) (domain.SyncStatus, error) {
	switch {
	case runErr == nil:
		if r.degraded || r.folderFailures > 0 || r.result.Errors > 0 {
			return domain.SyncStatusPartial, nil
		}
		return domain.SyncStatusSuccess, nil
	case out.IsAccountFatal(runErr):
		return domain.SyncStatusReauthRequired, runErr
	case ctx.Err() != nil || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		return domain.SyncStatusCancelled, runErr
	default:
		return domain.SyncStatusFailed, out.WrapSyncError("sync_account", runErr)
	}
}

var _ in.SyncService = (*Service)(nil)
