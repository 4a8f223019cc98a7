package http

import (
	"context"
	"errors"
	"strconv"

	"mail_worker/core/port/out"
	"mail_worker/core/service/auth"
	mail "mail_worker/core/service/email"
	mailsync "mail_worker/core/service/sync"
	"mail_worker/core/service/ticket"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/resilience"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// GetUserID safely extracts user_id from fiber context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, ErrUnauthorized
	}
	return userID, nil
}

// MustGetUserID extracts user_id or returns an AppError for the error handler.
func MustGetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, err := GetUserID(c)
	if err != nil {
		return uuid.Nil, apperr.Unauthorized("")
	}
	return userID, nil
}

// ParamID parses a positive int64 route parameter.
func ParamID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput(name, "must be a positive integer")
	}
	return id, nil
}

// QueryLimit reads ?limit= clamped to [1, max].
func QueryLimit(c *fiber.Ctx, def, max int) int {
	limit := c.QueryInt("limit", def)
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// =============================================================================
// Error mapping
// =============================================================================

// mapError converts service errors to AppErrors. accountID is attached to
// reauth and in-progress errors when known.
func mapError(err error, accountID int64) *apperr.AppError {
	if err == nil {
		return nil
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	acc := strconv.FormatInt(accountID, 10)

	var disabled *resilience.FeatureDisabledError
	switch {
	case errors.As(err, &disabled):
		return apperr.FeatureDisabled(disabled.Feature)
	case errors.Is(err, out.ErrNotFound):
		return apperr.NotFound("resource")
	case errors.Is(err, mailsync.ErrSyncInProgress):
		return apperr.SyncInProgress(acc)
	case errors.Is(err, mailsync.ErrFolderNotFound):
		return apperr.NotFound("folder")
	case errors.Is(err, mailsync.ErrAccountInactive),
		errors.Is(err, auth.ErrAccountInactive),
		errors.Is(err, mail.ErrAccountInvalid):
		return apperr.Conflict(err.Error()).WithError(err)
	case errors.Is(err, mail.ErrNoAccount):
		return apperr.NotFound("mail account")
	case errors.Is(err, mail.ErrNoRecipients):
		return apperr.MissingField("to")
	case errors.Is(err, auth.ErrInvalidState):
		return apperr.BadRequest(err.Error())
	case errors.Is(err, ticket.ErrTicketConflict):
		return apperr.Conflict(err.Error())
	case errors.Is(err, ticket.ErrSummaryUnavailable):
		return apperr.ServiceUnavailable("ticket summary", err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperr.ServiceUnavailable("mail provider", err)
	case out.IsAccountFatal(err):
		return apperr.ReauthRequired(acc).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout("request")
	}

	var me *out.MailError
	if errors.As(err, &me) {
		switch me.Kind {
		case out.KindTokenExchange:
			if me.CodeExpired {
				return apperr.CodeExpired(err)
			}
			return apperr.OAuthFailed("zoho", err)
		case out.KindRateLimited:
			appErr := apperr.RateLimited(err)
			if me.RetryAfter > 0 {
				appErr.WithDetail("retry_after", int(me.RetryAfter.Seconds()))
			}
			return appErr
		case out.KindTransient, out.KindTransientToken:
			return apperr.ServiceUnavailable("mail provider", err)
		case out.KindAPI:
			return apperr.ExternalError("zoho", err)
		case out.KindSync:
			return apperr.ExternalError("email sync", err)
		}
	}
	return apperr.InternalWithError(err)
}
