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

// TicketAdapter implements out.TicketRepository. The partial unique index
// idx_tickets_open_key enforces one open ticket per grouping key.
type TicketAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ out.TicketRepository = (*TicketAdapter)(nil)

func NewTicketAdapter(db *sqlx.DB) *TicketAdapter {
	return &TicketAdapter{db: db, now: time.Now}
}

type ticketEntity struct {
	ID                int64        `db:"id"`
	AccountID         int64        `db:"account_id"`
	SenderEmail       string       `db:"sender_email"`
	SenderName        string       `db:"sender_name"`
	SubjectPrefix     string       `db:"subject_prefix"`
	NormalizedSubject string       `db:"normalized_subject"`
	Status            string       `db:"status"`
	GroupingMode      string       `db:"grouping_mode"`
	EmailCount        int          `db:"email_count"`
	FirstEmailAt      sql.NullTime `db:"first_email_at"`
	LastEmailAt       sql.NullTime `db:"last_email_at"`
	ClosedAt          sql.NullTime `db:"closed_at"`
	Summary           string       `db:"summary"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

const ticketColumns = `id, account_id, sender_email, sender_name, subject_prefix, normalized_subject,
	status, grouping_mode, email_count, first_email_at, last_email_at, closed_at, summary,
	created_at, updated_at`

func (e *ticketEntity) toDomain() *domain.Ticket {
	return &domain.Ticket{
		ID:                e.ID,
		AccountID:         e.AccountID,
		SenderEmail:       e.SenderEmail,
		SenderName:        e.SenderName,
		SubjectPrefix:     e.SubjectPrefix,
		NormalizedSubject: e.NormalizedSubject,
		Status:            domain.TicketStatus(e.Status),
		GroupingMode:      domain.GroupingMode(e.GroupingMode),
		EmailCount:        e.EmailCount,
		FirstEmailAt:      timePtr(e.FirstEmailAt),
		LastEmailAt:       timePtr(e.LastEmailAt),
		ClosedAt:          timePtr(e.ClosedAt),
		Summary:           e.Summary,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func (a *TicketAdapter) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	var e ticketEntity
	if err := a.db.GetContext(ctx, &e, a.db.Rebind(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *TicketAdapter) FindByKey(ctx context.Context, key domain.TicketKey, status domain.TicketStatus) (*domain.Ticket, error) {
	var e ticketEntity
	q := a.db.Rebind(`SELECT ` + ticketColumns + ` FROM tickets
		WHERE account_id = ? AND sender_email = ? AND normalized_subject = ? AND grouping_mode = ? AND status = ?
		ORDER BY id DESC LIMIT 1`)
	err := a.db.GetContext(ctx, &e, q,
		key.AccountID, domain.NormalizeAddress(key.SenderEmail), key.NormalizedSubject, string(key.Mode), string(status))
	if err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *TicketAdapter) Create(ctx context.Context, t *domain.Ticket) error {
	now := a.now().UTC()
	if t.Status == "" {
		t.Status = domain.TicketOpen
	}
	t.SenderEmail = domain.NormalizeAddress(t.SenderEmail)
	q := a.db.Rebind(`INSERT INTO tickets (
			account_id, sender_email, sender_name, subject_prefix, normalized_subject, status,
			grouping_mode, email_count, first_email_at, last_email_at, closed_at, summary,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err := a.db.QueryRowxContext(ctx, q,
		t.AccountID, t.SenderEmail, t.SenderName, t.SubjectPrefix, t.NormalizedSubject, string(t.Status),
		string(t.GroupingMode), t.EmailCount, nullTime(t.FirstEmailAt), nullTime(t.LastEmailAt), nullTime(t.ClosedAt), t.Summary,
		now, now,
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (a *TicketAdapter) Update(ctx context.Context, t *domain.Ticket) error {
	t.UpdatedAt = a.now().UTC()
	q := a.db.Rebind(`UPDATE tickets SET
			sender_name = ?, subject_prefix = ?, status = ?, email_count = ?,
			first_email_at = ?, last_email_at = ?, closed_at = ?, summary = ?, updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q,
		t.SenderName, t.SubjectPrefix, string(t.Status), t.EmailCount,
		nullTime(t.FirstEmailAt), nullTime(t.LastEmailAt), nullTime(t.ClosedAt), t.Summary, t.UpdatedAt,
		t.ID)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return affected(res, err)
}

func (a *TicketAdapter) ListOpen(ctx context.Context, accountID int64) ([]*domain.Ticket, error) {
	var rows []ticketEntity
	q := a.db.Rebind(`SELECT ` + ticketColumns + ` FROM tickets
		WHERE account_id = ? AND status = 'open'
		ORDER BY COALESCE(last_email_at, created_at) DESC, id DESC`)
	if err := a.db.SelectContext(ctx, &rows, q, accountID); err != nil {
		return nil, err
	}
	result := make([]*domain.Ticket, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}
