package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"github.com/jmoiron/sqlx"
)

// ThreadAdapter implements out.ThreadRepository.
type ThreadAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ out.ThreadRepository = (*ThreadAdapter)(nil)

func NewThreadAdapter(db *sqlx.DB) *ThreadAdapter {
	return &ThreadAdapter{db: db, now: time.Now}
}

type threadEntity struct {
	ID               int64        `db:"id"`
	AccountID        int64        `db:"account_id"`
	ProviderThreadID string       `db:"provider_thread_id"`
	Subject          string       `db:"subject"`
	Participants     string       `db:"participants"`
	MessageCount     int          `db:"message_count"`
	UnreadCount      int          `db:"unread_count"`
	FirstMessageAt   sql.NullTime `db:"first_message_at"`
	LastMessageAt    sql.NullTime `db:"last_message_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

const threadColumns = `id, account_id, provider_thread_id, subject, participants, message_count,
	unread_count, first_message_at, last_message_at, created_at, updated_at`

func (e *threadEntity) toDomain() *domain.Thread {
	return &domain.Thread{
		ID:               e.ID,
		AccountID:        e.AccountID,
		ProviderThreadID: e.ProviderThreadID,
		Subject:          e.Subject,
		Participants:     decodeList(e.Participants),
		MessageCount:     e.MessageCount,
		UnreadCount:      e.UnreadCount,
		FirstMessageAt:   timePtr(e.FirstMessageAt),
		LastMessageAt:    timePtr(e.LastMessageAt),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (a *ThreadAdapter) GetByID(ctx context.Context, id int64) (*domain.Thread, error) {
	var e threadEntity
	if err := a.db.GetContext(ctx, &e, a.db.Rebind(`SELECT `+threadColumns+` FROM mail_threads WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *ThreadAdapter) getByProviderID(ctx context.Context, accountID int64, providerThreadID string) (*domain.Thread, error) {
	var e threadEntity
	q := a.db.Rebind(`SELECT ` + threadColumns + ` FROM mail_threads WHERE account_id = ? AND provider_thread_id = ?`)
	if err := a.db.GetContext(ctx, &e, q, accountID, providerThreadID); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

// GetOrCreate is safe against a concurrent insert of the same thread.
func (a *ThreadAdapter) GetOrCreate(ctx context.Context, accountID int64, providerThreadID, subject string) (*domain.Thread, error) {
	t, err := a.getByProviderID(ctx, accountID, providerThreadID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := a.now().UTC()
	q := a.db.Rebind(`INSERT INTO mail_threads (account_id, provider_thread_id, subject, participants, created_at, updated_at)
		VALUES (?, ?, ?, '[]', ?, ?)
		ON CONFLICT (account_id, provider_thread_id) DO NOTHING`)
	if _, err := a.db.ExecContext(ctx, q, accountID, providerThreadID, subject, now, now); err != nil {
		return nil, err
	}
	return a.getByProviderID(ctx, accountID, providerThreadID)
}

func (a *ThreadAdapter) UpdateStats(ctx context.Context, t *domain.Thread) error {
	t.UpdatedAt = a.now().UTC()
	q := a.db.Rebind(`UPDATE mail_threads SET
			subject = ?, participants = ?, message_count = ?, unread_count = ?,
			first_message_at = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q,
		t.Subject, encodeList(t.Participants), t.MessageCount, t.UnreadCount,
		nullTime(t.FirstMessageAt), nullTime(t.LastMessageAt), t.UpdatedAt, t.ID)
	return affected(res, err)
}
