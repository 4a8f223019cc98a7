package domain

import (
	"time"
)

// SyncStatus is the outcome of one sync run.
type SyncStatus string

const (
	SyncStatusRunning        SyncStatus = "running"
	SyncStatusSuccess        SyncStatus = "success"
	SyncStatusPartial        SyncStatus = "partial"         // 일부 폴더/메시지 실패
	SyncStatusFailed         SyncStatus = "failed"          // 계정 단위 실패
	SyncStatusReauthRequired SyncStatus = "reauth_required" // 재동의 필요, 자동 재시도 금지
	SyncStatusCancelled      SyncStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s SyncStatus) Terminal() bool {
	return s != SyncStatusRunning && s != ""
}

// SyncOptions scopes one SyncAccount call.
type SyncOptions struct {
	FolderFilter string     `json:"folder_filter,omitempty"` // provider folder id or folder name
	Limit        int        `json:"limit,omitempty"`         // total email cap, 0 = unlimited
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
}

// InWindow reports whether t falls in the optional date window.
func (o SyncOptions) InWindow(t time.Time) bool {
	if o.StartDate != nil && t.Before(*o.StartDate) {
		return false
	}
	if o.EndDate != nil && t.After(*o.EndDate) {
		return false
	}
	return true
}

// SyncCounts are always reported, even on partial failure.
type SyncCounts struct {
	Fetched int `json:"fetched" db:"fetched"`
	Created int `json:"created" db:"created"`
	Updated int `json:"updated" db:"updated"`
	Errors  int `json:"errors" db:"errors"`
}

func (c *SyncCounts) Add(o SyncCounts) {
	c.Fetched += o.Fetched
	c.Created += o.Created
	c.Updated += o.Updated
	c.Errors += o.Errors
}

// FolderSyncResult is the per-folder outcome inside a run.
type FolderSyncResult struct {
	FolderID         int64  `json:"folder_id"`
	ProviderFolderID string `json:"provider_folder_id"`
	Name             string `json:"name"`
	Pages            int    `json:"pages"`
	SyncCounts
	Error string `json:"error,omitempty"`
}

// SyncResult is returned by SyncAccount.
type SyncResult struct {
	LogID     string             `json:"log_id"`
	AccountID int64              `json:"account_id"`
	Status    SyncStatus         `json:"status"`
	Folders   []FolderSyncResult `json:"folders,omitempty"`
	Duration  time.Duration      `json:"duration"`
	Error     string             `json:"error,omitempty"`
	SyncCounts
}

// SyncLog records one run. It is written once at start and finalized once.
type SyncLog struct {
	ID         string        `json:"id"`
	AccountID  int64         `json:"account_id"`
	Status     SyncStatus    `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	SyncCounts
}

// Finalize stamps the terminal state. It is a no-op on an already finalized log.
func (l *SyncLog) Finalize(status SyncStatus, counts SyncCounts, errText string, now time.Time) bool {
	if l.FinishedAt != nil {
		return false
	}
	l.Status = status
	l.SyncCounts = counts
	l.Error = errText
	l.FinishedAt = &now
	l.Duration = now.Sub(l.StartedAt)
	return true
}

// SyncJob is a queued request to sync one account.
type SyncJob struct {
	AccountID  int64       `json:"account_id"`
	Options    SyncOptions `json:"options"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempt    int         `json:"attempt,omitempty"`
}

// RetryDelays is the backoff ladder for re-enqueued sync jobs.
var RetryDelays = []time.Duration{
	30 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// GetRetryDelay returns the delay before attempt n (0-based), capped at the last step.
func GetRetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[attempt]
}
