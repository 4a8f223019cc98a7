package out

import (
	"errors"
	"fmt"
	"time"
)

// MailErrorKind classifies failures from the mail provider and the sync engine.
type MailErrorKind string

const (
	KindAuthentication MailErrorKind = "authentication"  // access token rejected; one refresh allowed
	KindReauthRequired MailErrorKind = "reauth_required" // refresh token invalid; user must consent again
	KindRateLimited    MailErrorKind = "rate_limited"
	KindTransient      MailErrorKind = "transient" // network/timeout/5xx
	KindAPI            MailErrorKind = "api"       // other non-2xx
	KindSync           MailErrorKind = "sync"
	KindTokenExchange  MailErrorKind = "token_exchange"
	KindTransientToken MailErrorKind = "transient_token"
)

// MailError is the error type shared by the OAuth client, the mail API client
// and the sync engine.
type MailError struct {
	Kind       MailErrorKind
	Op         string
	StatusCode int
	Code       string // provider error code, e.g. invalid_grant
	Message    string
	RetryAfter time.Duration
	// CodeExpired is set on token exchange failures caused by a stale or
	// already used authorization code.
	CodeExpired bool
	Err         error
}

func (e *MailError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *MailError) Unwrap() error { return e.Err }

// Is matches any *MailError of the same kind, so the sentinels below work
// with errors.Is.
func (e *MailError) Is(target error) bool {
	var t *MailError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.StatusCode == 0
}

// Sentinels for errors.Is.
var (
	ErrAuthentication          = &MailError{Kind: KindAuthentication}
	ErrReauthorizationRequired = &MailError{Kind: KindReauthRequired}
	ErrRateLimitExceeded       = &MailError{Kind: KindRateLimited}
	ErrTransientNetwork        = &MailError{Kind: KindTransient}
	ErrZohoAPI                 = &MailError{Kind: KindAPI}
	ErrEmailSync               = &MailError{Kind: KindSync}
	ErrTokenExchange           = &MailError{Kind: KindTokenExchange}
	ErrTransientToken          = &MailError{Kind: KindTransientToken}
)

// NewMailError builds a MailError.
func NewMailError(kind MailErrorKind, op string, status int, msg string, err error) *MailError {
	return &MailError{Kind: kind, Op: op, StatusCode: status, Message: msg, Err: err}
}

// KindOf returns the kind of the first MailError in err's chain.
func KindOf(err error) (MailErrorKind, bool) {
	var me *MailError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return "", false
}

// IsRetryable is the default retry allow-list.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindRateLimited, KindTransient, KindTransientToken:
		return true
	}
	return false
}

// IsAccountFatal reports errors that must abort the whole account run.
func IsAccountFatal(err error) bool {
	return errors.Is(err, ErrReauthorizationRequired) || errors.Is(err, ErrAuthentication)
}

// RetryAfterOf returns the server's Retry-After hint, if any.
func RetryAfterOf(err error) time.Duration {
	var me *MailError
	if errors.As(err, &me) {
		return me.RetryAfter
	}
	return 0
}

// WrapSyncError wraps an unexpected failure during sync as an EmailSyncError,
// leaving already classified errors untouched.
func WrapSyncError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return &MailError{Kind: KindSync, Op: op, Err: err}
}
