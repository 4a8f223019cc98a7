package persistence

import (
	"context"
	"fmt"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"

	"github.com/jmoiron/sqlx"
)

// FolderAdapter implements out.FolderRepository.
type FolderAdapter struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ out.FolderRepository = (*FolderAdapter)(nil)

func NewFolderAdapter(db *sqlx.DB) *FolderAdapter {
	return &FolderAdapter{db: db, now: time.Now}
}

type folderEntity struct {
	ID               int64     `db:"id"`
	AccountID        int64     `db:"account_id"`
	ProviderFolderID string    `db:"provider_folder_id"`
	Name             string    `db:"name"`
	Path             string    `db:"path"`
	FolderType       string    `db:"folder_type"`
	TotalCount       int       `db:"total_count"`
	UnreadCount      int       `db:"unread_count"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

const folderColumns = `id, account_id, provider_folder_id, name, path, folder_type,
	total_count, unread_count, created_at, updated_at`

func (e *folderEntity) toDomain() *domain.Folder {
	return &domain.Folder{
		ID:               e.ID,
		AccountID:        e.AccountID,
		ProviderFolderID: e.ProviderFolderID,
		Name:             e.Name,
		Path:             e.Path,
		Type:             domain.FolderType(e.FolderType),
		TotalCount:       e.TotalCount,
		UnreadCount:      e.UnreadCount,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (a *FolderAdapter) GetByID(ctx context.Context, id int64) (*domain.Folder, error) {
	var e folderEntity
	if err := a.db.GetContext(ctx, &e, a.db.Rebind(`SELECT `+folderColumns+` FROM mail_folders WHERE id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *FolderAdapter) GetByProviderID(ctx context.Context, accountID int64, providerFolderID string) (*domain.Folder, error) {
	var e folderEntity
	q := a.db.Rebind(`SELECT ` + folderColumns + ` FROM mail_folders WHERE account_id = ? AND provider_folder_id = ?`)
	if err := a.db.GetContext(ctx, &e, q, accountID, providerFolderID); err != nil {
		return nil, notFound(err)
	}
	return e.toDomain(), nil
}

func (a *FolderAdapter) ListByAccount(ctx context.Context, accountID int64) ([]*domain.Folder, error) {
	var rows []folderEntity
	q := a.db.Rebind(`SELECT ` + folderColumns + ` FROM mail_folders WHERE account_id = ? ORDER BY id`)
	if err := a.db.SelectContext(ctx, &rows, q, accountID); err != nil {
		return nil, err
	}
	result := make([]*domain.Folder, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}

// Upsert writes name/path/type. Counts are owned by RecomputeCounts and are
// left untouched on conflict.
func (a *FolderAdapter) Upsert(ctx context.Context, f *domain.Folder) error {
	now := a.now().UTC()
	if f.Type == "" {
		f.Type = domain.FolderTypeCustom
	}
	q := a.db.Rebind(`INSERT INTO mail_folders (
			account_id, provider_folder_id, name, path, folder_type, total_count, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT (account_id, provider_folder_id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			folder_type = excluded.folder_type,
			updated_at = excluded.updated_at
		RETURNING id, total_count, unread_count`)
	row := a.db.QueryRowxContext(ctx, q, f.AccountID, f.ProviderFolderID, f.Name, f.Path, string(f.Type), now, now)
	if err := row.Scan(&f.ID, &f.TotalCount, &f.UnreadCount); err != nil {
		return fmt.Errorf("upsert folder %s: %w", f.ProviderFolderID, err)
	}
	f.UpdatedAt = now
	return nil
}

// RecomputeCounts derives both counters from the email rows in one statement.
func (a *FolderAdapter) RecomputeCounts(ctx context.Context, folderID int64) (*domain.Folder, error) {
	q := a.db.Rebind(`UPDATE mail_folders SET
			total_count = (SELECT COUNT(*) FROM emails WHERE folder_id = ?),
			unread_count = (SELECT COUNT(*) FROM emails WHERE folder_id = ? AND is_read = FALSE),
			updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, folderID, folderID, a.now().UTC(), folderID)
	if err := affected(res, err); err != nil {
		return nil, err
	}
	return a.GetByID(ctx, folderID)
}
