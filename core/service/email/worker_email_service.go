// Package mail covers the user-facing mail operations outside of sync:
// sending, attachment traffic and explicit deletes.
package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"

	"github.com/google/uuid"
)

var (
	ErrNoRecipients   = errors.New("at least one recipient is required")
	ErrNoAccount      = errors.New("no connected mail account")
	ErrAccountInvalid = errors.New("account is not active")
)

// TicketSettler recomputes a ticket after one of its emails went away.
type TicketSettler interface {
	SettleTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
}

type Service struct {
	accounts out.AccountRepository
	folders  out.FolderRepository
	emails   out.EmailRepository
	threads  out.ThreadRepository
	api      out.MailSender
	degrader *resilience.Degrader
	tickets  TicketSettler
}

func NewService(
	accounts out.AccountRepository,
	folders out.FolderRepository,
	emails out.EmailRepository,
	threads out.ThreadRepository,
	api out.MailSender,
	degrader *resilience.Degrader,
	tickets TicketSettler,
) *Service {
	return &Service{
		accounts: accounts,
		folders:  folders,
		emails:   emails,
		threads:  threads,
		api:      api,
		degrader: degrader,
		tickets:  tickets,
	}
}

// =============================================================================
// Send
// =============================================================================

// SendMessage sends req from accountID, or from the user's default account
// when accountID is 0. Sends are never retried.
func (s *Service) SendMessage(ctx context.Context, userID uuid.UUID, accountID int64, req *domain.SendRequest) (*domain.SentMessage, error) {
	req.To = cleanAddresses(req.To)
	req.Cc = cleanAddresses(req.Cc)
	req.Bcc = cleanAddresses(req.Bcc)
	if len(req.To) == 0 {
		return nil, ErrNoRecipients
	}

	acc, err := s.senderAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if req.From == "" {
		req.From = acc.Email
	}

	sent, err := s.api.SendMessage(ctx, acc, req)
	if err != nil {
		logger.Warn("[MailService.SendMessage] Send failed for account %d: %v", acc.ID, err)
		return nil, err
	}
	logger.Info("[MailService.SendMessage] Sent message %s from account %d", sent.MessageID, acc.ID)
	return sent, nil
}

// UploadAttachment stages a file on the provider for a later send.
func (s *Service) UploadAttachment(ctx context.Context, userID uuid.UUID, accountID int64, name string, r io.Reader) (*domain.UploadedAttachment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("attachment name is required")
	}
	acc, err := s.senderAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	return s.api.UploadAttachment(ctx, acc, name, r)
}

func (s *Service) senderAccount(ctx context.Context, userID uuid.UUID, accountID int64) (*domain.Account, error) {
	if accountID == 0 {
		accounts, err := s.accounts.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, a := range accounts {
			if a.IsDefault && a.IsActive {
				return a, nil
			}
		}
		return nil, ErrNoAccount
	}
	acc, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive {
		return nil, ErrAccountInvalid
	}
	return acc, nil
}

func cleanAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			result = append(result, a)
		}
	}
	return result
}

// =============================================================================
// Attachments
// =============================================================================

func (s *Service) ListAttachments(ctx context.Context, userID uuid.UUID, emailID int64) ([]domain.AttachmentDTO, error) {
	acc, e, folder, err := s.locate(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}
	if !e.HasAttachment {
		return []domain.AttachmentDTO{}, nil
	}
	return s.api.ListAttachments(ctx, acc, folder.ProviderFolderID, e.ProviderMessageID)
}

// DownloadAttachment fetches attachment bytes. Provider outages count toward
// the attachment_download feature flag; while it is disabled the call fails
// fast with *resilience.FeatureDisabledError.
func (s *Service) DownloadAttachment(ctx context.Context, userID uuid.UUID, emailID int64, attachmentID string) ([]byte, error) {
	acc, e, folder, err := s.locate(ctx, userID, emailID)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.degrader.Run(ctx, resilience.FeatureAttachmentDownload, isOutage, func(ctx context.Context) error {
		var err error
		data, err = s.api.DownloadAttachment(ctx, acc, folder.ProviderFolderID, e.ProviderMessageID, attachmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func isOutage(err error) bool {
	return out.IsRetryable(err) || errors.Is(err, resilience.ErrCircuitOpen)
}

// =============================================================================
// Delete
// =============================================================================

// DeleteEmail removes the local row and recomputes everything derived from it:
// folder counts, thread stats and the email's ticket.
func (s *Service) DeleteEmail(ctx context.Context, userID uuid.UUID, emailID int64) error {
	_, e, _, err := s.locate(ctx, userID, emailID)
	if err != nil {
		return err
	}
	if err := s.emails.Delete(ctx, e.ID); err != nil {
		return fmt.Errorf("delete email %d: %w", e.ID, err)
	}

	if _, err := s.folders.RecomputeCounts(ctx, e.FolderID); err != nil {
		logger.Warn("[MailService.DeleteEmail] Folder %d recount failed: %v", e.FolderID, err)
	}
	if e.ThreadID != nil {
		if err := s.recomputeThread(ctx, *e.ThreadID); err != nil {
			logger.Warn("[MailService.DeleteEmail] Thread %d recompute failed: %v", *e.ThreadID, err)
		}
	}
	if e.TicketID != nil && s.tickets != nil {
		if _, err := s.tickets.SettleTicket(ctx, *e.TicketID); err != nil {
			logger.Warn("[MailService.DeleteEmail] Ticket %d settle failed: %v", *e.TicketID, err)
		}
	}
	return nil
}

func (s *Service) recomputeThread(ctx context.Context, threadID int64) error {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	members, err := s.emails.ListByThread(ctx, threadID)
	if err != nil {
		return err
	}
	t.Recompute(members)
	return s.threads.UpdateStats(ctx, t)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Service) ownedAccount(ctx context.Context, userID uuid.UUID, accountID int64) (*domain.Account, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.UserID != userID {
		return nil, out.ErrNotFound
	}
	return acc, nil
}

// locate loads an email with its account and folder, enforcing ownership.
func (s *Service) locate(ctx context.Context, userID uuid.UUID, emailID int64) (*domain.Account, *domain.Email, *domain.Folder, error) {
	e, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, nil, nil, err
	}
	acc, err := s.ownedAccount(ctx, userID, e.AccountID)
	if err != nil {
		return nil, nil, nil, err
	}
	folder, err := s.folders.GetByID(ctx, e.FolderID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load folder %d: %w", e.FolderID, err)
	}
	return acc, e, folder, nil
}

var _ in.MailService = (*Service)(nil)
