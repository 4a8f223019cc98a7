package domain

import (
	"time"
)

// Email is a locally stored message. ProviderMessageID is the global
// idempotency key: no two rows share it.
type Email struct {
	ID                int64      `json:"id"`
	AccountID         int64      `json:"account_id"`
	FolderID          int64      `json:"folder_id"`
	ThreadID          *int64     `json:"thread_id,omitempty"`
	TicketID          *int64     `json:"ticket_id,omitempty"`
	ProviderMessageID string     `json:"provider_message_id"`
	ProviderThreadID  string     `json:"provider_thread_id,omitempty"`
	FromEmail         string     `json:"from_email"`
	FromName          string     `json:"from_name,omitempty"`
	To                []string   `json:"to,omitempty"`
	Cc                []string   `json:"cc,omitempty"`
	Subject           string     `json:"subject"`
	BodyText          string     `json:"body_text,omitempty"`
	BodyHTML          string     `json:"body_html,omitempty"`
	IsRead            bool       `json:"is_read"`
	IsStarred         bool       `json:"is_starred"`
	IsImportant       bool       `json:"is_important"`
	IsOpen            bool       `json:"is_open"`
	HasAttachment     bool       `json:"has_attachment"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ReceivedAt        time.Time  `json:"received_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BodyLength is the combined size of the stored bodies.
func (e *Email) BodyLength() int {
	return len(e.BodyText) + len(e.BodyHTML)
}

// MessageDTO is a provider message as returned by a listing or detail call.
type MessageDTO struct {
	MessageID     string
	ThreadID      string
	FolderID      string
	Subject       string
	FromEmail     string
	FromName      string
	To            []string
	Cc            []string
	BodyText      string
	BodyHTML      string
	IsRead        bool
	IsStarred     bool
	IsImportant   bool
	HasAttachment bool
	SentAt        *time.Time
	ReceivedAt    time.Time
}

// BodyLength is the combined size of the DTO bodies.
func (m *MessageDTO) BodyLength() int {
	return len(m.BodyText) + len(m.BodyHTML)
}

// FolderDTO is a provider folder listing entry.
type FolderDTO struct {
	FolderID    string
	Name        string
	Path        string
	Type        string
	TotalCount  int
	UnreadCount int
}

// AttachmentDTO describes a message attachment.
type AttachmentDTO struct {
	AttachmentID string `json:"attachment_id"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type,omitempty"`
}

// UploadedAttachment references a file staged on the provider for sending.
type UploadedAttachment struct {
	StoreName string `json:"store_name"`
	Name      string `json:"name"`
	Path      string `json:"path"`
}

// SendRequest is an outgoing message.
type SendRequest struct {
	From        string               `json:"from"`
	To          []string             `json:"to"`
	Cc          []string             `json:"cc,omitempty"`
	Bcc         []string             `json:"bcc,omitempty"`
	Subject     string               `json:"subject"`
	Content     string               `json:"content"`
	HTML        bool                 `json:"html"`
	Attachments []UploadedAttachment `json:"attachments,omitempty"`
}

// SentMessage is the provider's acknowledgement of a send.
type SentMessage struct {
	MessageID string `json:"message_id,omitempty"`
}
