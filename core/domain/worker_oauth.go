package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type OAuthProvider string

const (
	ProviderZoho OAuthProvider = "zoho"
)

// TokenSet is what the authorization server hands back on exchange/refresh.
type TokenSet struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past expiry, treating tokens
// within skew of expiry as already expired.
func (t *TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// Mailbox is the provider identity behind a token grant.
type Mailbox struct {
	ProviderAccountID string `json:"provider_account_id"`
	Email             string `json:"email"`
	DisplayName       string `json:"display_name,omitempty"`
}

// Account is one connected mailbox. Tokens are held decrypted in memory and
// encrypted by the repository on write.
type Account struct {
	ID                int64         `json:"id"`
	UserID            uuid.UUID     `json:"user_id"`
	Provider          OAuthProvider `json:"provider"`
	Email             string        `json:"email"`
	DisplayName       string        `json:"display_name,omitempty"`
	AccessToken       string        `json:"-"`
	RefreshToken      string        `json:"-"`
	TokenExpiresAt    time.Time     `json:"token_expires_at"`
	ProviderAccountID string        `json:"provider_account_id,omitempty"` // provider 숫자 계정 ID 캐시
	IsActive          bool          `json:"is_active"`
	SyncEnabled       bool          `json:"sync_enabled"`
	IsDefault         bool          `json:"is_default"`
	LastSyncAt        *time.Time    `json:"last_sync_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Tokens returns the account's credentials as a TokenSet.
func (a *Account) Tokens() *TokenSet {
	return &TokenSet{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    a.TokenExpiresAt,
	}
}

// ApplyTokens stores a refreshed TokenSet. An empty refresh token keeps the old one.
func (a *Account) ApplyTokens(t *TokenSet) {
	a.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		a.RefreshToken = t.RefreshToken
	}
	a.TokenExpiresAt = t.ExpiresAt
}

// ClearTokens is used on disconnect.
func (a *Account) ClearTokens() {
	a.AccessToken = ""
	a.RefreshToken = ""
	a.TokenExpiresAt = time.Time{}
	a.IsActive = false
	a.SyncEnabled = false
	a.IsDefault = false
}

// CanSync reports whether scheduled sync should run for this account.
func (a *Account) CanSync() bool {
	return a.IsActive && a.SyncEnabled && a.RefreshToken != ""
}

// NormalizeAddress lowercases and trims a mail address for comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
