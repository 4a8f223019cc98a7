package mongodb

import (
	"testing"
	"time"

	"mail_worker/core/domain"
)

func TestSyncLogArchive_toDocument(t *testing.T) {
	a := &SyncLogArchive{retention: 24 * time.Hour}
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	l := &domain.SyncLog{
		ID:         "log-1",
		AccountID:  7,
		Status:     domain.SyncStatusPartial,
		StartedAt:  started,
		FinishedAt: &finished,
		Duration:   90 * time.Second,
		Error:      "folder f-sent: unavailable",
		SyncCounts: domain.SyncCounts{Fetched: 10, Created: 8, Updated: 1, Errors: 1},
	}

	doc := a.toDocument(l)
	if doc.ID != "log-1" || doc.AccountID != 7 || doc.Status != "partial" {
		t.Errorf("identity fields = %+v", doc)
	}
	if doc.DurationMS != 90000 {
		t.Errorf("DurationMS = %d, want 90000", doc.DurationMS)
	}
	if doc.Fetched != 10 || doc.Created != 8 || doc.Updated != 1 || doc.Errors != 1 {
		t.Errorf("counts = %+v", doc)
	}
	if want := finished.Add(24 * time.Hour); !doc.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", doc.ExpiresAt, want)
	}
}

func TestSyncLogArchive_RejectsRunningLog(t *testing.T) {
	a := &SyncLogArchive{retention: time.Hour}
	l := &domain.SyncLog{ID: "log-2", Status: domain.SyncStatusRunning, StartedAt: time.Now()}
	if err := a.Archive(t.Context(), l); err == nil {
		t.Error("Archive() accepted a running log")
	}
}
