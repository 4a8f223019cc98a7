package in

import (
	"context"
	"io"

	"mail_worker/core/domain"

	"github.com/google/uuid"
)

type MailService interface {
	// Send (accountID 0 = default account)
	SendMessage(ctx context.Context, userID uuid.UUID, accountID int64, req *domain.SendRequest) (*domain.SentMessage, error)
	UploadAttachment(ctx context.Context, userID uuid.UUID, accountID int64, name string, r io.Reader) (*domain.UploadedAttachment, error)

	// Attachments
	ListAttachments(ctx context.Context, userID uuid.UUID, emailID int64) ([]domain.AttachmentDTO, error)
	DownloadAttachment(ctx context.Context, userID uuid.UUID, emailID int64, attachmentID string) ([]byte, error)

	DeleteEmail(ctx context.Context, userID uuid.UUID, emailID int64) error
}
