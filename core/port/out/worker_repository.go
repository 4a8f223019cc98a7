package out

import (
	"context"
	"errors"
	"time"

	"mail_worker/core/domain"

	"github.com/google/uuid"
)

// AccountRepository is the TokenStore: it persists accounts with their
// encrypted OAuth credentials.
type AccountRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.Account, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error)
	ListSyncable(ctx context.Context) ([]*domain.Account, error)
	// Upsert inserts or updates by (user_id, email) and sets acc.ID.
	Upsert(ctx context.Context, acc *domain.Account) error
	Update(ctx context.Context, acc *domain.Account) error
	UpdateTokens(ctx context.Context, id int64, tokens *domain.TokenSet) error
	UpdateProviderAccountID(ctx context.Context, id int64, providerAccountID string) error
	MarkSynced(ctx context.Context, id int64, at time.Time) error
	// SetDefault makes id the only default account of userID.
	SetDefault(ctx context.Context, userID uuid.UUID, id int64) error
	// Delete removes the account and every row that references it.
	Delete(ctx context.Context, id int64) error
}

type FolderRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Folder, error)
	GetByProviderID(ctx context.Context, accountID int64, providerFolderID string) (*domain.Folder, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*domain.Folder, error)
	// Upsert inserts or updates by (account_id, provider_folder_id) and sets f.ID.
	Upsert(ctx context.Context, f *domain.Folder) error
	// RecomputeCounts rewrites total/unread counts from email rows.
	RecomputeCounts(ctx context.Context, folderID int64) (*domain.Folder, error)
}

type EmailRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Email, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Email, error)
	// Create inserts a new row; a duplicate provider message id yields ErrDuplicate.
	Create(ctx context.Context, e *domain.Email) error
	Update(ctx context.Context, e *domain.Email) error
	// UpdateSyncFields writes only what a sync owns: flags, folder, thread and bodies.
	UpdateSyncFields(ctx context.Context, e *domain.Email) error
	// SetTicketState writes only ticket_id and is_open.
	SetTicketState(ctx context.Context, id, ticketID int64, open bool) error
	SetOpen(ctx context.Context, id int64, open bool) error
	Delete(ctx context.Context, id int64) error
	ListByThread(ctx context.Context, threadID int64) ([]*domain.Email, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Email, error)
	// ListOpenUnassigned returns open emails of a sender that have no ticket yet.
	ListOpenUnassigned(ctx context.Context, accountID int64, senderEmail string) ([]*domain.Email, error)
	SetOpenByTicket(ctx context.Context, ticketID int64, open bool) error
	CountByAccount(ctx context.Context, accountID int64) (int, error)
}

type ThreadRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Thread, error)
	// GetOrCreate finds the thread by (account, provider thread id) or creates it.
	GetOrCreate(ctx context.Context, accountID int64, providerThreadID, subject string) (*domain.Thread, error)
	UpdateStats(ctx context.Context, t *domain.Thread) error
}

type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	// FindByKey returns the newest ticket with the given key and status, or ErrNotFound.
	FindByKey(ctx context.Context, key domain.TicketKey, status domain.TicketStatus) (*domain.Ticket, error)
	Create(ctx context.Context, t *domain.Ticket) error
	Update(ctx context.Context, t *domain.Ticket) error
	ListOpen(ctx context.Context, accountID int64) ([]*domain.Ticket, error)
}

type SyncLogRepository interface {
	Create(ctx context.Context, l *domain.SyncLog) error
	// Finalize writes the terminal state; a second call fails with ErrLogFinalized.
	Finalize(ctx context.Context, l *domain.SyncLog) error
	GetByID(ctx context.Context, id string) (*domain.SyncLog, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]*domain.SyncLog, error)
}

// SyncLogArchive receives finalized logs for long-term storage.
type SyncLogArchive interface {
	Archive(ctx context.Context, l *domain.SyncLog) error
}

// Repository errors. Adapters must return (or wrap) these.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrLogFinalized = errors.New("sync log already finalized")
)
