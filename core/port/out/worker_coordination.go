package out

import (
	"context"
	"errors"
	"time"

	"mail_worker/core/domain"

	"github.com/google/uuid"
)

// ErrLeaseHeld is returned when another worker owns the account lease.
var ErrLeaseHeld = errors.New("lease held by another worker")

// Lease is a held per-account lock.
type Lease interface {
	Release(ctx context.Context) error
}

// AccountLocker serializes sync runs of the same account.
type AccountLocker interface {
	// TryAcquire returns ErrLeaseHeld if the account is already locked.
	TryAcquire(ctx context.Context, accountID int64, ttl time.Duration) (Lease, error)
}

// SyncJobPublisher enqueues sync jobs for the worker pool.
type SyncJobPublisher interface {
	PublishSyncJob(ctx context.Context, job *domain.SyncJob) error
}

// SyncJobScheduler re-enqueues a sync job after a delay.
type SyncJobScheduler interface {
	ScheduleSyncJob(ctx context.Context, job *domain.SyncJob, delay time.Duration) error
}

// ErrStateNotFound is returned for unknown, expired or already used OAuth states.
var ErrStateNotFound = errors.New("oauth state not found or expired")

// OAuthStateStore keeps short-lived OAuth state values between connect and callback.
type OAuthStateStore interface {
	Save(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error
	// Consume returns the stored user id and deletes the state.
	Consume(ctx context.Context, state string) (uuid.UUID, error)
}

// GenerateOptions tunes a text generation call.
type GenerateOptions struct {
	System      string
	MaxTokens   int
	Temperature float32
}

// GenerateResult is the output of a text generation call.
type GenerateResult struct {
	Text     string
	Model    string
	Provider string
}

// TextGenerator is the capability each AI provider implements.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)
}
