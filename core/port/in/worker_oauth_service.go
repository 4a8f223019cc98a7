package in

import (
	"context"

	"mail_worker/core/domain"

	"github.com/google/uuid"
)

type OAuthService interface {
	// Connect returns the consent URL for userID.
	Connect(ctx context.Context, userID uuid.UUID) (string, error)
	HandleCallback(ctx context.Context, state, code string) (*domain.Account, error)

	// Accounts
	ListAccounts(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error)
	GetAccount(ctx context.Context, userID uuid.UUID, accountID int64) (*domain.Account, error)
	SetDefaultAccount(ctx context.Context, userID uuid.UUID, accountID int64) error
	Disconnect(ctx context.Context, userID uuid.UUID, accountID int64, purge bool) error

	// Token lifecycle
	PersistTokens(ctx context.Context, accountID int64, tokens *domain.TokenSet) error
	MarkReauthRequired(ctx context.Context, accountID int64) error
}
