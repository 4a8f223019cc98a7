// Package auth connects Zoho mailboxes through OAuth and owns the account
// lifecycle: callback upsert, default selection, disconnect and token updates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/logger"

	"github.com/google/uuid"
)

var (
	// ErrInvalidState is returned when the callback state is unknown, expired or reused.
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrAccountInactive is returned when an inactive account is made default.
	ErrAccountInactive = errors.New("account is not active")
)

const defaultStateTTL = 10 * time.Minute

type OAuthService struct {
	accounts  out.AccountRepository
	oauth     out.OAuthClient
	mailboxes out.MailboxResolver
	states    out.OAuthStateStore
	publisher out.SyncJobPublisher
	stateTTL  time.Duration
	now       func() time.Time
}

func NewOAuthService(
	accounts out.AccountRepository,
	oauth out.OAuthClient,
	mailboxes out.MailboxResolver,
	states out.OAuthStateStore,
) *OAuthService {
	return &OAuthService{
		accounts:  accounts,
		oauth:     oauth,
		mailboxes: mailboxes,
		states:    states,
		stateTTL:  defaultStateTTL,
		now:       time.Now,
	}
}

// SetSyncPublisher sets the publisher used to trigger the initial sync job.
func (s *OAuthService) SetSyncPublisher(p out.SyncJobPublisher) {
	s.publisher = p
}

// SetStateTTL overrides how long a connect state stays redeemable.
func (s *OAuthService) SetStateTTL(ttl time.Duration) {
	if ttl > 0 {
		s.stateTTL = ttl
	}
}

// =============================================================================
// Connect / Callback
// =============================================================================

// Connect stores a one-time state for userID and returns the consent URL.
func (s *OAuthService) Connect(ctx context.Context, userID uuid.UUID) (string, error) {
	state := uuid.NewString()
	if err := s.states.Save(ctx, state, userID, s.stateTTL); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}
	return s.oauth.AuthCodeURL(state), nil
}

// HandleCallback redeems the state, exchanges the code and upserts the account.
// The user's first connected account becomes the default.
func (s *OAuthService) HandleCallback(ctx context.Context, state, code string) (*domain.Account, error) {
	userID, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, out.ErrStateNotFound) {
			return nil, ErrInvalidState
		}
		return nil, err
	}
	logger.Info("[OAuthService.HandleCallback] Starting for user: %s", userID)

	tokens, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	mailbox, err := s.mailboxes.ResolveMailbox(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("resolve mailbox: %w", err)
	}

	existing, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	acc := &domain.Account{
		UserID:            userID,
		Provider:          domain.ProviderZoho,
		Email:             mailbox.Email,
		DisplayName:       mailbox.DisplayName,
		ProviderAccountID: mailbox.ProviderAccountID,
		IsActive:          true,
		SyncEnabled:       true,
	}
	acc.ApplyTokens(tokens)
	if err := s.accounts.Upsert(ctx, acc); err != nil {
		return nil, fmt.Errorf("upsert account: %w", err)
	}
	// Upsert does not touch the cached id of an existing row.
	if mailbox.ProviderAccountID != "" {
		if err := s.accounts.UpdateProviderAccountID(ctx, acc.ID, mailbox.ProviderAccountID); err != nil {
			logger.Warn("[OAuthService.HandleCallback] Failed to cache provider account id: %v", err)
		}
	}
	logger.Info("[OAuthService.HandleCallback] Account %d connected: %s", acc.ID, acc.Email)

	if !hasDefault(existing, acc.ID) {
		if err := s.accounts.SetDefault(ctx, userID, acc.ID); err != nil {
			return nil, fmt.Errorf("set default account: %w", err)
		}
		acc.IsDefault = true
	}

	// 초기 동기화 작업 등록 (실패해도 콜백은 성공)
	if s.publisher != nil {
		job := &domain.SyncJob{AccountID: acc.ID, EnqueuedAt: s.now().UTC()}
		if err := s.publisher.PublishSyncJob(ctx, job); err != nil {
			logger.Warn("[OAuthService.HandleCallback] Failed to publish sync job: %v", err)
		}
	}
	return acc, nil
}

func hasDefault(accounts []*domain.Account, except int64) bool {
	for _, a := range accounts {
		if a.IsDefault && a.IsActive && a.ID != except {
			return true
		}
	}
	return false
}

// =============================================================================
// Accounts
// =============================================================================

func (s *OAuthService) ListAccounts(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error) {
	return s.accounts.ListByUser(ctx, userID)
}

// GetAccount returns out.ErrNotFound when the account belongs to another user.
func (s *OAuthService) GetAccount(ctx context.Context, userID uuid.UUID, accountID int64) (*domain.Account, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.UserID != userID {
		return nil, out.ErrNotFound
	}
	return acc, nil
}

// SetDefaultAccount makes accountID the user's only default account.
func (s *OAuthService) SetDefaultAccount(ctx context.Context, userID uuid.UUID, accountID int64) error {
	acc, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if !acc.IsActive {
		return ErrAccountInactive
	}
	return s.accounts.SetDefault(ctx, userID, accountID)
}

// Disconnect deactivates the account and clears its tokens. With purge the
// account and every row referencing it are deleted instead.
func (s *OAuthService) Disconnect(ctx context.Context, userID uuid.UUID, accountID int64, purge bool) error {
	acc, err := s.GetAccount(ctx, userID, accountID)
	if err != nil {
		return err
	}
	wasDefault := acc.IsDefault

	if purge {
		if err := s.accounts.Delete(ctx, accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
	} else {
		acc.ClearTokens()
		if err := s.accounts.Update(ctx, acc); err != nil {
			return fmt.Errorf("deactivate account: %w", err)
		}
	}
	logger.Info("[OAuthService.Disconnect] Account %d disconnected (purge=%v)", accountID, purge)

	if wasDefault {
		s.promoteDefault(ctx, userID, accountID)
	}
	return nil
}

// promoteDefault hands the default flag to another active account, if any.
func (s *OAuthService) promoteDefault(ctx context.Context, userID uuid.UUID, removed int64) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		logger.Warn("[OAuthService.promoteDefault] List accounts failed: %v", err)
		return
	}
	for _, a := range accounts {
		if a.ID == removed || !a.IsActive {
			continue
		}
		if err := s.accounts.SetDefault(ctx, userID, a.ID); err != nil {
			logger.Warn("[OAuthService.promoteDefault] SetDefault(%d) failed: %v", a.ID, err)
		}
		return
	}
}

// =============================================================================
// Token lifecycle
// =============================================================================

// PersistTokens stores refreshed tokens for the mail client.
func (s *OAuthService) PersistTokens(ctx context.Context, accountID int64, tokens *domain.TokenSet) error {
	if err := s.accounts.UpdateTokens(ctx, accountID, tokens); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	logger.Debug("[OAuthService.PersistTokens] Token refreshed for account %d", accountID)
	return nil
}

// MarkReauthRequired stops scheduled sync until the user reconnects.
func (s *OAuthService) MarkReauthRequired(ctx context.Context, accountID int64) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !acc.SyncEnabled {
		return nil
	}
	acc.SyncEnabled = false
	if err := s.accounts.Update(ctx, acc); err != nil {
		return err
	}
	logger.Warn("[OAuthService.MarkReauthRequired] Account %d needs re-authentication, sync disabled", accountID)
	return nil
}

var (
	_ in.OAuthService    = (*OAuthService)(nil)
	_ out.TokenPersister = (*OAuthService)(nil)
)
