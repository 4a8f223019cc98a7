package in

import (
	"context"

	"mail_worker/core/domain"
)

// SyncService pulls mailbox state for one account at a time.
type SyncService interface {
	// SyncAccount runs one sync; a concurrent run of the same account fails fast.
	SyncAccount(ctx context.Context, accountID int64, opts domain.SyncOptions) (*domain.SyncResult, error)
	ListSyncLogs(ctx context.Context, accountID int64, limit int) ([]*domain.SyncLog, error)
	// EnqueueAll queues a sync job for every syncable account.
	EnqueueAll(ctx context.Context) (int, error)
}
