package out

import (
	"context"
	"io"

	"mail_worker/core/domain"
)

// MaxPageSize is the provider's hard per-request message limit.
const MaxPageSize = 200

// OAuthClient talks to the provider's authorization server. It has no
// persistence side effects.
type OAuthClient interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenSet, error)
}

// TokenPersister stores refreshed tokens for an account.
type TokenPersister interface {
	PersistTokens(ctx context.Context, accountID int64, tokens *domain.TokenSet) error
}

// MailboxResolver identifies the mailbox behind freshly issued tokens.
type MailboxResolver interface {
	ResolveMailbox(ctx context.Context, tokens *domain.TokenSet) (*domain.Mailbox, error)
}

// MailSyncer is the read side used by the sync engine.
type MailSyncer interface {
	GetAccountID(ctx context.Context, acc *domain.Account) (string, error)
	ListFolders(ctx context.Context, acc *domain.Account) ([]domain.FolderDTO, error)
	// ListMessages returns at most limit messages starting at offset start.
	// limit is clamped to [1, MaxPageSize].
	ListMessages(ctx context.Context, acc *domain.Account, folderID string, limit, start int) ([]domain.MessageDTO, error)
	GetMessageDetail(ctx context.Context, acc *domain.Account, folderID, messageID string) (*domain.MessageDTO, error)
}

// MailSender covers send and attachment traffic.
type MailSender interface {
	SendMessage(ctx context.Context, acc *domain.Account, req *domain.SendRequest) (*domain.SentMessage, error)
	UploadAttachment(ctx context.Context, acc *domain.Account, name string, r io.Reader) (*domain.UploadedAttachment, error)
	ListAttachments(ctx context.Context, acc *domain.Account, folderID, messageID string) ([]domain.AttachmentDTO, error)
	DownloadAttachment(ctx context.Context, acc *domain.Account, folderID, messageID, attachmentID string) ([]byte, error)
}

// MailAPI is the full provider client.
type MailAPI interface {
	MailSyncer
	MailSender
}
