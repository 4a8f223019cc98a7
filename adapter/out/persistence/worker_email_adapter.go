package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"github.com/jmoiron/sqlx"
)

// EmailAdapter implements out.EmailRepository.
type EmailAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ out.EmailRepository = (*EmailAdapter)(nil)

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db, now: time.Now}
}

// =============================================================================
// Entity
// =============================================================================

type emailEntity struct {
	ID                int64         `db:"id"`
	AccountID         int64         `db:"account_id"`
	FolderID          int64         `db:"folder_id"`
	ThreadID          sql.NullInt64 `db:"thread_id"`
	TicketID          sql.NullInt64 `db:"ticket_id"`
	ProviderMessageID string        `db:"provider_message_id"`
	ProviderThreadID  string        `db:"provider_thread_id"`
	FromEmail         string        `db:"from_email"`
	FromName          string        `db:"from_name"`
	ToAddrs           string        `db:"to_addrs"`
	CcAddrs           string        `db:"cc_addrs"`
	Subject           string        `db:"subject"`
	BodyText          string        `db:"body_text"`
	BodyHTML          string        `db:"body_html"`
	IsRead            bool          `db:"is_read"`
	IsStarred         bool          `db:"is_starred"`
	IsImportant       bool          `db:"is_important"`
	IsOpen            bool          `db:"is_open"`
	HasAttachment     bool          `db:"has_attachment"`
	SentAt            sql.NullTime  `db:"sent_at"`
	ReceivedAt        time.Time     `db:"received_at"`
	CreatedAt         time.Time     `db:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

const emailColumns = `id, account_id, folder_id, thread_id, ticket_id, provider_message_id,
	provider_thread_id, from_email, from_name, to_addrs, cc_addrs, subject, body_text, body_html,
	is_read, is_starred, is_important, is_open, has_attachment, sent_at, received_at,
	created_at, updated_at`

func (e *emailEntity) toDomain() *domain.Email {
	return &domain.Email{
		ID:                e.ID,
		AccountID:         e.AccountID,
		FolderID:          e.FolderID,
		ThreadID:          intPtr(e.ThreadID),
		TicketID:          intPtr(e.TicketID),
		ProviderMessageID: e.ProviderMessageID,
		ProviderThreadID:  e.ProviderThreadID,
		FromEmail:         e.FromEmail,
		FromName:          e.FromName,
		To:                decodeList(e.ToAddrs),
		Cc:                decodeList(e.CcAddrs),
		Subject:           e.Subject,
		BodyText:          e.BodyText,
		BodyHTML:          e.BodyHTML,
		IsRead:            e.IsRead,
		IsStarred:         e.IsStarred,
		IsImportant:       e.IsImportant,
		IsOpen:            e.IsOpen,
		HasAttachment:     e.HasAttachment,
		SentAt:            timePtr(e.SentAt),
		ReceivedAt:        e.ReceivedAt.UTC(),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// =============================================================================
// Queries
// =============================================================================

func (a *EmailAdapter) GetByID(ctx context.Context, id int64) (*domain.Email, error) {
	var e emailEntity
	if err := a.db.GetContext(ctx, &e, a.db.Rebind(`SELECT `+emailColumns+` FROM emails WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *EmailAdapter) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error) {
	var e emailEntity
	q := a.db.Rebind(`SELECT ` + emailColumns + ` FROM emails WHERE provider_message_id = ?`)
	if err := a.db.GetContext(ctx, &e, q, providerMessageID); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *EmailAdapter) Create(ctx context.Context, e *domain.Email) error {
	now := a.now().UTC()
	q := a.db.Rebind(`INSERT INTO emails (
			account_id, folder_id, thread_id, ticket_id, provider_message_id, provider_thread_id,
			from_email, from_name, to_addrs, cc_addrs, subject, body_text, body_html,
			is_read, is_starred, is_important, is_open, has_attachment, sent_at, received_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err := a.db.QueryRowxContext(ctx, q,
		e.AccountID, e.FolderID, nullInt(e.ThreadID), nullInt(e.TicketID), e.ProviderMessageID, e.ProviderThreadID,
		e.FromEmail, e.FromName, encodeList(e.To), encodeList(e.Cc), e.Subject, e.BodyText, e.BodyHTML,
		e.IsRead, e.IsStarred, e.IsImportant, e.IsOpen, e.HasAttachment, nullTime(e.SentAt), e.ReceivedAt.UTC(),
		now, now,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create email %s: %w", e.ProviderMessageID, err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func (a *EmailAdapter) Update(ctx context.Context, e *domain.Email) error {
	e.UpdatedAt = a.now().UTC()
	q := a.db.Rebind(`UPDATE emails SET
			folder_id = ?, thread_id = ?, ticket_id = ?, provider_thread_id = ?,
			from_email = ?, from_name = ?, to_addrs = ?, cc_addrs = ?, subject = ?,
			body_text = ?, body_html = ?, is_read = ?, is_starred = ?, is_important = ?,
			is_open = ?, has_attachment = ?, sent_at = ?, received_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q,
		e.FolderID, nullInt(e.ThreadID), nullInt(e.TicketID), e.ProviderThreadID,
		e.FromEmail, e.FromName, encodeList(e.To), encodeList(e.Cc), e.Subject,
		e.BodyText, e.BodyHTML, e.IsRead, e.IsStarred, e.IsImportant,
		e.IsOpen, e.HasAttachment, nullTime(e.SentAt), e.ReceivedAt.UTC(), e.UpdatedAt,
		e.ID)
	return affected(res, err)
}

func (a *EmailAdapter) UpdateSyncFields(ctx context.Context, e *domain.Email) error {
	e.UpdatedAt = a.now().UTC()
	q := a.db.Rebind(`UPDATE emails SET
			folder_id = ?, thread_id = ?, provider_thread_id = ?, body_text = ?, body_html = ?,
			is_read = ?, is_starred = ?, is_important = ?, updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q,
		e.FolderID, nullInt(e.ThreadID), e.ProviderThreadID, e.BodyText, e.BodyHTML,
		e.IsRead, e.IsStarred, e.IsImportant, e.UpdatedAt,
		e.ID)
	return affected(res, err)
}

func (a *EmailAdapter) SetTicketState(ctx context.Context, id, ticketID int64, open bool) error {
	q := a.db.Rebind(`UPDATE emails SET ticket_id = ?, is_open = ?, updated_at = ? WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, ticketID, open, a.now().UTC(), id)
	return affected(res, err)
}

func (a *EmailAdapter) SetOpen(ctx context.Context, id int64, open bool) error {
	q := a.db.Rebind(`UPDATE emails SET is_open = ?, updated_at = ? WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, open, a.now().UTC(), id)
	return affected(res, err)
}

func (a *EmailAdapter) Delete(ctx context.Context, id int64) error {
	res, err := a.db.ExecContext(ctx, a.db.Rebind(`DELETE FROM emails WHERE id = ?`), id)
	return affected(res, err)
}

func (a *EmailAdapter) ListByThread(ctx context.Context, threadID int64) ([]*domain.Email, error) {
	return a.list(ctx, `SELECT `+emailColumns+` FROM emails WHERE thread_id = ? ORDER BY received_at, id`, threadID)
}

func (a *EmailAdapter) ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Email, error) {
	return a.list(ctx, `SELECT `+emailColumns+` FROM emails WHERE ticket_id = ? ORDER BY received_at, id`, ticketID)
}

func (a *EmailAdapter) ListOpenUnassigned(ctx context.Context, accountID int64, senderEmail string) ([]*domain.Email, error) {
	return a.list(ctx, `SELECT `+emailColumns+` FROM emails
		WHERE account_id = ? AND from_email = ? AND is_open = TRUE AND ticket_id IS NULL
		ORDER BY received_at, id`, accountID, domain.NormalizeAddress(senderEmail))
}

func (a *EmailAdapter) SetOpenByTicket(ctx context.Context, ticketID int64, open bool) error {
	q := a.db.Rebind(`UPDATE emails SET is_open = ?, updated_at = ? WHERE ticket_id = ?`)
	_, err := a.db.ExecContext(ctx, q, open, a.now().UTC(), ticketID)
	return err
}

func (a *EmailAdapter) CountByAccount(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, a.db.Rebind(`SELECT COUNT(*) FROM emails WHERE account_id = ?`), accountID)
	return n, err
}

func (a *EmailAdapter) list(ctx context.Context, q string, args ...any) ([]*domain.Email, error) {
	var rows []emailEntity
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	result := make([]*domain.Email, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}
