package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	mailsync "mail_worker/core/service/sync"
)

type fakeSyncService struct {
	err      error
	calls    int
	enqueued int
}

func (f *fakeSyncService) SyncAccount(ctx context.Context, accountID int64, opts domain.SyncOptions) (*domain.SyncResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SyncResult{AccountID: accountID, Status: domain.SyncStatusSuccess}, nil
}

func (f *fakeSyncService) ListSyncLogs(ctx context.Context, accountID int64, limit int) ([]*domain.SyncLog, error) {
	return nil, nil
}

func (f *fakeSyncService) EnqueueAll(ctx context.Context) (int, error) {
	return f.enqueued, f.err
}

type fakeReauth struct {
	marked []int64
}

func (f *fakeReauth) MarkReauthRequired(ctx context.Context, accountID int64) error {
	f.marked = append(f.marked, accountID)
	return nil
}

type scheduled struct {
	job   *domain.SyncJob
	delay time.Duration
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	err  error
}

func (f *fakeScheduler) ScheduleSyncJob(ctx context.Context, job *domain.SyncJob, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, scheduled{job: job, delay: delay})
	return nil
}

func TestSyncProcessor_ProcessSync(t *testing.T) {
	transient := out.NewMailError(out.KindTransient, "list_messages", 503, "unavailable", nil)

	tests := []struct {
		name         string
		err          error
		attempt      int
		wantErr      bool
		wantMarked   bool
		wantSchedule bool
		wantDelay    time.Duration
	}{
		{name: "success"},
		{name: "in progress is skipped", err: mailsync.ErrSyncInProgress},
		{name: "inactive is skipped", err: mailsync.ErrAccountInactive},
		{name: "missing account is skipped", err: out.ErrNotFound},
		{name: "unknown folder is not retried", err: mailsync.ErrFolderNotFound},
		{
			name:       "reauth is acknowledged without retry",
			err:        out.NewMailError(out.KindReauthRequired, "refresh", 400, "invalid_code", nil),
			wantMarked: true,
		},
		{name: "transient first attempt", err: transient, wantSchedule: true, wantDelay: 30 * time.Second},
		{name: "transient third attempt", err: transient, attempt: 2, wantSchedule: true, wantDelay: 5 * time.Minute},
		{name: "ladder exhausted", err: transient, attempt: len(domain.RetryDelays)},
		{name: "unclassified failure is retried", err: errors.New("boom"), wantSchedule: true, wantDelay: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncs := &fakeSyncService{err: tt.err}
			reauth := &fakeReauth{}
			sched := &fakeScheduler{}
			p := NewSyncProcessor(syncs, reauth, sched)

			msg := NewMessage(JobMailSync, &domain.SyncJob{AccountID: 7, Attempt: tt.attempt})
			err := p.ProcessSync(context.Background(), msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ProcessSync() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := len(reauth.marked) == 1; got != tt.wantMarked {
				t.Errorf("marked = %v, want %v", reauth.marked, tt.wantMarked)
			}
			if got := len(sched.jobs) == 1; got != tt.wantSchedule {
				t.Fatalf("scheduled = %d jobs, want schedule %v", len(sched.jobs), tt.wantSchedule)
			}
			if tt.wantSchedule {
				s := sched.jobs[0]
				if s.delay != tt.wantDelay {
					t.Errorf("delay = %v, want %v", s.delay, tt.wantDelay)
				}
				if s.job.Attempt != tt.attempt+1 {
					t.Errorf("attempt = %d, want %d", s.job.Attempt, tt.attempt+1)
				}
				if s.job.AccountID != 7 {
					t.Errorf("account = %d, want 7", s.job.AccountID)
				}
			}
		})
	}
}

func TestSyncProcessor_RetryAfterHint(t *testing.T) {
	me := out.NewMailError(out.KindRateLimited, "list_messages", 429, "slow down", nil)
	me.RetryAfter = 2 * time.Minute

	sched := &fakeScheduler{}
	p := NewSyncProcessor(&fakeSyncService{err: me}, nil, sched)
	if err := p.ProcessSync(context.Background(), NewMessage(JobMailSync, &domain.SyncJob{AccountID: 1})); err != nil {
		t.Fatalf("ProcessSync() error = %v", err)
	}
	if len(sched.jobs) != 1 || sched.jobs[0].delay != 2*time.Minute {
		t.Fatalf("scheduled = %+v, want one job delayed 2m", sched.jobs)
	}
}

func TestSyncProcessor_NoScheduler(t *testing.T) {
	p := NewSyncProcessor(&fakeSyncService{err: errors.New("boom")}, nil, nil)
	err := p.ProcessSync(context.Background(), NewMessage(JobMailSync, &domain.SyncJob{AccountID: 1}))
	if err == nil {
		t.Fatal("expected error to be handed back to the pool")
	}
}

func TestSyncProcessor_SchedulerFailure(t *testing.T) {
	sched := &fakeScheduler{err: errors.New("redis down")}
	p := NewSyncProcessor(&fakeSyncService{err: errors.New("boom")}, nil, sched)
	if err := p.ProcessSync(context.Background(), NewMessage(JobMailSync, &domain.SyncJob{AccountID: 1})); err == nil {
		t.Fatal("expected error when the retry cannot be scheduled")
	}
}

func TestSyncProcessor_DropsEmptyJob(t *testing.T) {
	syncs := &fakeSyncService{}
	p := NewSyncProcessor(syncs, nil, nil)
	if err := p.ProcessSync(context.Background(), NewMessage(JobMailSync, nil)); err != nil {
		t.Fatalf("ProcessSync() error = %v", err)
	}
	if syncs.calls != 0 {
		t.Errorf("SyncAccount called %d times", syncs.calls)
	}
}

func TestHandler_Process(t *testing.T) {
	syncs := &fakeSyncService{enqueued: 3}
	h := NewHandler(NewSyncProcessor(syncs, nil, nil))

	if err := h.Process(context.Background(), NewMessage(JobMailSync, &domain.SyncJob{AccountID: 2})); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := h.Process(context.Background(), NewMessage(JobMailSyncAll, nil)); err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if err := h.Process(context.Background(), NewMessage("unknown", nil)); err != nil {
		t.Fatalf("unknown type should be ignored: %v", err)
	}
	if syncs.calls != 1 {
		t.Errorf("SyncAccount calls = %d, want 1", syncs.calls)
	}
}

func TestParseSyncJob(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		want    int64
	}{
		{name: "valid", data: `{"account_id":5,"options":{"folder_filter":"Inbox","limit":10}}`, want: 5},
		{name: "negative attempt clamps", data: `{"account_id":6,"attempt":-2}`, want: 6},
		{name: "missing account", data: `{"options":{}}`, wantErr: true},
		{name: "not json", data: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := ParseSyncJob([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSyncJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if job.AccountID != tt.want {
				t.Errorf("AccountID = %d, want %d", job.AccountID, tt.want)
			}
			if job.Attempt < 0 {
				t.Errorf("Attempt = %d, want >= 0", job.Attempt)
			}
		})
	}
}
