package persistence

import (
	"context"
	"database/sql"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// SyncLogAdapter - 동기화 실행 기록 (append-only)
// =============================================================================

type SyncLogAdapter struct {
	db *sqlx.DB
}

var _ out.SyncLogRepository = (*SyncLogAdapter)(nil)

func NewSyncLogAdapter(db *sqlx.DB) *SyncLogAdapter {
	return &SyncLogAdapter{db: db}
}

type syncLogEntity struct {
	ID         string       `db:"id"`
	AccountID  int64        `db:"account_id"`
	Status     string       `db:"status"`
	Fetched    int          `db:"fetched"`
	Created    int          `db:"created"`
	Updated    int          `db:"updated"`
	Errors     int          `db:"errors"`
	ErrorText  string       `db:"error_text"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	DurationMs int64        `db:"duration_ms"`
}

const syncLogColumns = `id, account_id, status, fetched, created, updated, errors, error_text,
	started_at, finished_at, duration_ms`

func (e *syncLogEntity) toDomain() *domain.SyncLog {
	return &domain.SyncLog{
		ID:         e.ID,
		AccountID:  e.AccountID,
		Status:     domain.SyncStatus(e.Status),
		StartedAt:  e.StartedAt.UTC(),
		FinishedAt: timePtr(e.FinishedAt),
		Duration:   time.Duration(e.DurationMs) * time.Millisecond,
		Error:      e.ErrorText,
		SyncCounts: domain.SyncCounts{
			Fetched: e.Fetched,
			Created: e.Created,
			Updated: e.Updated,
			Errors:  e.Errors,
		},
	}
}

func (a *SyncLogAdapter) Create(ctx context.Context, l *domain.SyncLog) error {
	q := a.db.Rebind(`INSERT INTO sync_logs (id, account_id, status, started_at) VALUES (?, ?, ?, ?)`)
	_, err := a.db.ExecContext(ctx, q, l.ID, l.AccountID, string(l.Status), l.StartedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Finalize only touches rows that have not been finalized yet.
func (a *SyncLogAdapter) Finalize(ctx context.Context, l *domain.SyncLog) error {
	q := a.db.Rebind(`UPDATE sync_logs SET
			status = ?, fetched = ?, created = ?, updated = ?, errors = ?, error_text = ?,
			finished_at = ?, duration_ms = ?
		WHERE id = ? AND finished_at IS NULL`)
	res, err := a.db.ExecContext(ctx, q,
		string(l.Status), l.Fetched, l.Created, l.Updated, l.Errors, l.Error,
		nullTime(l.FinishedAt), l.Duration.Milliseconds(), l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := a.GetByID(ctx, l.ID); err != nil {
		return err
	}
	return ErrLogFinalized
}

func (a *SyncLogAdapter) GetByID(ctx context.Context, id string) (*domain.SyncLog, error) {
	var e syncLogEntity
	if err := a.db.GetContext(ctx, &e, a.db.Rebind(`SELECT `+syncLogColumns+` FROM sync_logs WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *SyncLogAdapter) ListByAccount(ctx context.Context, accountID int64, limit int) ([]*domain.SyncLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []syncLogEntity
	q := a.db.Rebind(`SELECT ` + syncLogColumns + ` FROM sync_logs WHERE account_id = ? ORDER BY started_at DESC LIMIT ?`)
	if err := a.db.SelectContext(ctx, &rows, q, accountID, limit); err != nil {
		return nil, err
	}
	result := make([]*domain.SyncLog, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}
