package domain

import (
	"strings"
	"time"
)

// FolderType is the semantic role of a provider folder.
type FolderType string

const (
	FolderTypeInbox   FolderType = "inbox"
	FolderTypeSent    FolderType = "sent"
	FolderTypeDrafts  FolderType = "drafts"
	FolderTypeTrash   FolderType = "trash"
	FolderTypeSpam    FolderType = "spam"
	FolderTypeArchive FolderType = "archive"
	FolderTypeOutbox  FolderType = "outbox"
	FolderTypeCustom  FolderType = "custom"
)

// ParseFolderType maps a provider folder type or name to a FolderType.
// Unknown values fall back to custom.
func ParseFolderType(providerType, name string) FolderType {
	for _, s := range []string{providerType, name} {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "inbox":
			return FolderTypeInbox
		case "sent", "sent items", "sent mail":
			return FolderTypeSent
		case "drafts", "draft":
			return FolderTypeDrafts
		case "trash", "deleted", "deleted items", "bin":
			return FolderTypeTrash
		case "spam", "junk", "junk e-mail":
			return FolderTypeSpam
		case "archive", "archived":
			return FolderTypeArchive
		case "outbox":
			return FolderTypeOutbox
		}
	}
	return FolderTypeCustom
}

// Folder belongs to an Account. TotalCount and UnreadCount are caches that are
// always recomputed from email rows, never incremented.
type Folder struct {
	ID               int64      `json:"id"`
	AccountID        int64      `json:"account_id"`
	ProviderFolderID string     `json:"provider_folder_id"`
	Name             string     `json:"name"`
	Path             string     `json:"path,omitempty"`
	Type             FolderType `json:"type"`
	TotalCount       int        `json:"total_count"`
	UnreadCount      int        `json:"unread_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
