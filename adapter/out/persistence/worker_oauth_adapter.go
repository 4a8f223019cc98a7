package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/crypto"
	"mail_worker/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AccountAdapter implements out.AccountRepository. Tokens are encrypted with
// the injected cipher before they reach the database.
type AccountAdapter struct {
	db     *sqlx.DB
	cipher crypto.Cipher
	now    func() time.Time
}

var _ out.AccountRepository = (*AccountAdapter)(nil)

func NewAccountAdapter(db *sqlx.DB, cipher crypto.Cipher) *AccountAdapter {
	if cipher == nil {
		logger.Warn("[AccountAdapter] no cipher configured, tokens stored in plaintext")
		cipher = crypto.Plaintext{}
	}
	return &AccountAdapter{db: db, cipher: cipher, now: time.Now}
}

// =============================================================================
// Entity
// =============================================================================

type accountEntity struct {
	ID                int64        `db:"id"`
	UserID            string       `db:"user_id"`
	Provider          string       `db:"provider"`
	Email             string       `db:"email"`
	DisplayName       string       `db:"display_name"`
	AccessToken       string       `db:"access_token"`
	RefreshToken      string       `db:"refresh_token"`
	TokenExpiresAt    sql.NullTime `db:"token_expires_at"`
	ProviderAccountID string       `db:"provider_account_id"`
	IsActive          bool         `db:"is_active"`
	SyncEnabled       bool         `db:"sync_enabled"`
	IsDefault         bool         `db:"is_default"`
	LastSyncAt        sql.NullTime `db:"last_sync_at"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

const accountColumns = `id, user_id, provider, email, display_name, access_token, refresh_token,
	token_expires_at, provider_account_id, is_active, sync_enabled, is_default, last_sync_at,
	created_at, updated_at`

func (a *AccountAdapter) toDomain(e *accountEntity) *domain.Account {
	uid, _ := uuid.Parse(e.UserID)
	acc := &domain.Account{
		ID:                e.ID,
		UserID:            uid,
		Provider:          domain.OAuthProvider(e.Provider),
		Email:             e.Email,
		DisplayName:       e.DisplayName,
		AccessToken:       a.decrypt(e.ID, e.AccessToken),
		RefreshToken:      a.decrypt(e.ID, e.RefreshToken),
		ProviderAccountID: e.ProviderAccountID,
		IsActive:          e.IsActive,
		SyncEnabled:       e.SyncEnabled,
		IsDefault:         e.IsDefault,
		LastSyncAt:        timePtr(e.LastSyncAt),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if e.TokenExpiresAt.Valid {
		acc.TokenExpiresAt = e.TokenExpiresAt.Time.UTC()
	}
	return acc
}

func (a *AccountAdapter) encrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	enc, err := a.cipher.Encrypt(token)
	if err != nil {
		return "", fmt.Errorf("encrypt token: %w", err)
	}
	return enc, nil
}

// decrypt returns "" for undecryptable values so the account falls into
// the reauthorization path instead of sending garbage to the provider.
func (a *AccountAdapter) decrypt(accountID int64, token string) string {
	if token == "" {
		return ""
	}
	if _, plain := a.cipher.(crypto.Plaintext); plain || !crypto.IsEncrypted(token) {
		return token
	}
	dec, err := a.cipher.Decrypt(token)
	if err != nil {
		logger.WithError(err).Error("[AccountAdapter] token decrypt failed for account %d", accountID)
		return ""
	}
	return dec
}

// =============================================================================
// Queries
// =============================================================================

func (a *AccountAdapter) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	var e accountEntity
	q := a.db.Rebind(`SELECT ` + accountColumns + ` FROM mail_accounts WHERE id = ?`)
	if err := a.db.GetContext(ctx, &e, q, id); err != nil {
		return nil, notFound(err)
	}
	return a.toDomain(&e), nil
}

func (a *AccountAdapter) GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.Account, error) {
	var e accountEntity
	q := a.db.Rebind(`SELECT ` + accountColumns + ` FROM mail_accounts WHERE user_id = ? AND email = ?`)
	if err := a.db.GetContext(ctx, &e, q, userID.String(), domain.NormalizeAddress(email)); err != nil {
		return nil, notFound(err)
	}
	return a.toDomain(&e), nil
}

func (a *AccountAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error) {
	q := a.db.Rebind(`SELECT ` + accountColumns + ` FROM mail_accounts WHERE user_id = ? ORDER BY is_default DESC, id`)
	return a.list(ctx, q, userID.String())
}

func (a *AccountAdapter) ListSyncable(ctx context.Context) ([]*domain.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM mail_accounts
		WHERE is_active = TRUE AND sync_enabled = TRUE AND refresh_token <> '' ORDER BY id`
	return a.list(ctx, q)
}

func (a *AccountAdapter) list(ctx context.Context, q string, args ...any) ([]*domain.Account, error) {
	var rows []accountEntity
	if err := a.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	result := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		result = append(result, a.toDomain(&rows[i]))
	}
	return result, nil
}

// Upsert keeps the stored refresh token when acc carries none, since the
// server does not always reissue one.
func (a *AccountAdapter) Upsert(ctx context.Context, acc *domain.Account) error {
	access, err := a.encrypt(acc.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := a.encrypt(acc.RefreshToken)
	if err != nil {
		return err
	}
	now := a.now().UTC()
	acc.Email = domain.NormalizeAddress(acc.Email)
	if acc.Provider == "" {
		acc.Provider = domain.ProviderZoho
	}

	q := a.db.Rebind(`INSERT INTO mail_accounts (
			user_id, provider, email, display_name, access_token, refresh_token, token_expires_at,
			provider_account_id, is_active, sync_enabled, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, email) DO UPDATE SET
			display_name = excluded.display_name,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN mail_accounts.refresh_token ELSE excluded.refresh_token END,
			token_expires_at = excluded.token_expires_at,
			is_active = excluded.is_active,
			sync_enabled = excluded.sync_enabled,
			updated_at = excluded.updated_at
		RETURNING id, is_default`)

	expires := acc.TokenExpiresAt
	row := a.db.QueryRowxContext(ctx, q,
		acc.UserID.String(), string(acc.Provider), acc.Email, acc.DisplayName, access, refresh, nullTime(&expires),
		acc.ProviderAccountID, acc.IsActive, acc.SyncEnabled, acc.IsDefault, now, now)
	if err := row.Scan(&acc.ID, &acc.IsDefault); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	acc.UpdatedAt = now
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	return nil
}

// Update can clear IsDefault but never set it; use SetDefault for that.
func (a *AccountAdapter) Update(ctx context.Context, acc *domain.Account) error {
	access, err := a.encrypt(acc.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := a.encrypt(acc.RefreshToken)
	if err != nil {
		return err
	}
	acc.UpdatedAt = a.now().UTC()
	expires := acc.TokenExpiresAt
	q := a.db.Rebind(`UPDATE mail_accounts SET
			display_name = ?, access_token = ?, refresh_token = ?, token_expires_at = ?,
			provider_account_id = ?, is_active = ?, sync_enabled = ?, last_sync_at = ?, updated_at = ?,
			is_default = CASE WHEN ? THEN is_default ELSE FALSE END
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q,
		acc.DisplayName, access, refresh, nullTime(&expires),
		acc.ProviderAccountID, acc.IsActive, acc.SyncEnabled, nullTime(acc.LastSyncAt), acc.UpdatedAt,
		acc.IsDefault, acc.ID)
	return affected(res, err)
}

func (a *AccountAdapter) UpdateTokens(ctx context.Context, id int64, tokens *domain.TokenSet) error {
	access, err := a.encrypt(tokens.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := a.encrypt(tokens.RefreshToken)
	if err != nil {
		return err
	}
	expires := tokens.ExpiresAt
	q := a.db.Rebind(`UPDATE mail_accounts SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			token_expires_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, access, refresh, refresh, nullTime(&expires), a.now().UTC(), id)
	return affected(res, err)
}

// PersistTokens lets the repository serve as the mail client's token sink.
func (a *AccountAdapter) PersistTokens(ctx context.Context, accountID int64, tokens *domain.TokenSet) error {
	return a.UpdateTokens(ctx, accountID, tokens)
}

func (a *AccountAdapter) UpdateProviderAccountID(ctx context.Context, id int64, providerAccountID string) error {
	q := a.db.Rebind(`UPDATE mail_accounts SET provider_account_id = ?, updated_at = ? WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, providerAccountID, a.now().UTC(), id)
	return affected(res, err)
}

func (a *AccountAdapter) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	q := a.db.Rebind(`UPDATE mail_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`)
	res, err := a.db.ExecContext(ctx, q, at.UTC(), a.now().UTC(), id)
	return affected(res, err)
}

// SetDefault clears every other default of the user in the same transaction.
func (a *AccountAdapter) SetDefault(ctx context.Context, userID uuid.UUID, id int64) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner string
	if err := tx.GetContext(ctx, &owner, tx.Rebind(`SELECT user_id FROM mail_accounts WHERE id = ?`), id); err != nil {
		return notFound(err)
	}
	if owner != userID.String() {
		return ErrNotFound
	}
	now := a.now().UTC()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE mail_accounts SET is_default = FALSE, updated_at = ? WHERE user_id = ? AND is_default = TRUE`), now, owner); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE mail_accounts SET is_default = TRUE, updated_at = ? WHERE id = ?`), now, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete purges the account and all rows that reference it.
func (a *AccountAdapter) Delete(ctx context.Context, id int64) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM emails WHERE account_id = ?`,
		`DELETE FROM tickets WHERE account_id = ?`,
		`DELETE FROM mail_threads WHERE account_id = ?`,
		`DELETE FROM mail_folders WHERE account_id = ?`,
		`DELETE FROM sync_logs WHERE account_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mail_accounts WHERE id = ?`), id)
	if err := affected(res, err); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
