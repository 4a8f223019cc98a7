// Package persistence provides the sqlx-backed repositories. The same
// queries run on PostgreSQL (pgx stdlib driver) and SQLite (modernc).
package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// IsSQLite reports whether db talks to SQLite.
func IsSQLite(db *sqlx.DB) bool {
	name := db.DriverName()
	return name == "sqlite" || name == "sqlite3"
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	idType := "BIGSERIAL PRIMARY KEY"
	tsType := "TIMESTAMPTZ"
	if IsSQLite(db) {
		idType = "INTEGER PRIMARY KEY AUTOINCREMENT"
		tsType = "DATETIME"
	}
	r := strings.NewReplacer("{{ID}}", idType, "{{TS}}", tsType)

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mail_accounts (
		id {{ID}},
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'zoho',
		email TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at {{TS}},
		provider_account_id TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		last_sync_at {{TS}},
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL,
		UNIQUE (user_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS mail_folders (
		id {{ID}},
		account_id BIGINT NOT NULL REFERENCES mail_accounts(id) ON DELETE CASCADE,
		provider_folder_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		folder_type TEXT NOT NULL DEFAULT 'custom',
		total_count INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL,
		UNIQUE (account_id, provider_folder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS mail_threads (
		id {{ID}},
		account_id BIGINT NOT NULL REFERENCES mail_accounts(id) ON DELETE CASCADE,
		provider_thread_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0,
		first_message_at {{TS}},
		last_message_at {{TS}},
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL,
		UNIQUE (account_id, provider_thread_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id {{ID}},
		account_id BIGINT NOT NULL REFERENCES mail_accounts(id) ON DELETE CASCADE,
		sender_email TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		subject_prefix TEXT NOT NULL DEFAULT '',
		normalized_subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		grouping_mode TEXT NOT NULL,
		email_count INTEGER NOT NULL DEFAULT 0,
		first_email_at {{TS}},
		last_email_at {{TS}},
		closed_at {{TS}},
		summary TEXT NOT NULL DEFAULT '',
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	// one open ticket per grouping key
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_key
		ON tickets (account_id, sender_email, normalized_subject, grouping_mode)
		WHERE status = 'open'`,
	`CREATE TABLE IF NOT EXISTS emails (
		id {{ID}},
		account_id BIGINT NOT NULL REFERENCES mail_accounts(id) ON DELETE CASCADE,
		folder_id BIGINT NOT NULL REFERENCES mail_folders(id) ON DELETE CASCADE,
		thread_id BIGINT REFERENCES mail_threads(id) ON DELETE SET NULL,
		ticket_id BIGINT REFERENCES tickets(id) ON DELETE SET NULL,
		provider_message_id TEXT NOT NULL UNIQUE,
		provider_thread_id TEXT NOT NULL DEFAULT '',
		from_email TEXT NOT NULL DEFAULT '',
		from_name TEXT NOT NULL DEFAULT '',
		to_addrs TEXT NOT NULL DEFAULT '[]',
		cc_addrs TEXT NOT NULL DEFAULT '[]',
		subject TEXT NOT NULL DEFAULT '',
		body_text TEXT NOT NULL DEFAULT '',
		body_html TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		is_starred BOOLEAN NOT NULL DEFAULT FALSE,
		is_important BOOLEAN NOT NULL DEFAULT FALSE,
		is_open BOOLEAN NOT NULL DEFAULT FALSE,
		has_attachment BOOLEAN NOT NULL DEFAULT FALSE,
		sent_at {{TS}},
		received_at {{TS}} NOT NULL,
		created_at {{TS}} NOT NULL,
		updated_at {{TS}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_folder ON emails (folder_id, is_read)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails (thread_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_ticket ON emails (ticket_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_sender_open ON emails (account_id, from_email, is_open)`,
	`CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		status TEXT NOT NULL,
		fetched INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error_text TEXT NOT NULL DEFAULT '',
		started_at {{TS}} NOT NULL,
		finished_at {{TS}},
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_logs_account ON sync_logs (account_id, started_at)`,
}
