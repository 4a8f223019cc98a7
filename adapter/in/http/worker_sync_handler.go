package http

import (
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type SyncHandler struct {
	syncService in.SyncService
	accounts    in.OAuthService
	publisher   out.SyncJobPublisher
}

func NewSyncHandler(syncService in.SyncService, accounts in.OAuthService, publisher out.SyncJobPublisher) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		accounts:    accounts,
		publisher:   publisher,
	}
}

func (h *SyncHandler) Register(r fiber.Router) {
	r.Post("/accounts/:id/sync", h.Sync)
	r.Get("/accounts/:id/sync-logs", h.ListLogs)
}

// SyncRequest is the optional body of POST /accounts/:id/sync.
type SyncRequest struct {
	Folder    string `json:"folder"`
	Limit     int    `json:"limit"`
	StartDate string `json:"start_date"` // RFC3339 or YYYY-MM-DD
	EndDate   string `json:"end_date"`
}

func (r *SyncRequest) options() (domain.SyncOptions, error) {
	opts := domain.SyncOptions{FolderFilter: r.Folder, Limit: r.Limit}
	if r.Limit < 0 {
		return opts, apperr.InvalidInput("limit", "must not be negative")
	}
	var err error
	if opts.StartDate, err = parseDate("start_date", r.StartDate); err != nil {
		return opts, err
	}
	if opts.EndDate, err = parseDate("end_date", r.EndDate); err != nil {
		return opts, err
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.EndDate.Before(*opts.StartDate) {
		return opts, apperr.InvalidInput("end_date", "must not be before start_date")
	}
	return opts, nil
}

func parseDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperr.InvalidInput(field, "expected RFC3339 or YYYY-MM-DD")
}

// Sync runs a sync inline, or queues it when ?async=true.
func (h *SyncHandler) Sync(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}

	var req SyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}
	if req.Folder == "" {
		req.Folder = c.Query("folder")
	}
	if req.Limit == 0 {
		req.Limit = c.QueryInt("limit", 0)
	}
	opts, err := req.options()
	if err != nil {
		return err
	}

	if _, err := h.accounts.GetAccount(c.Context(), userID, accountID); err != nil {
		return mapError(err, accountID)
	}

	if c.QueryBool("async", false) {
		if h.publisher == nil {
			return apperr.ServiceUnavailable("sync queue", nil)
		}
		job := &domain.SyncJob{AccountID: accountID, Options: opts}
		if err := h.publisher.PublishSyncJob(c.Context(), job); err != nil {
			logger.WithError(err).Error("[SyncHandler.Sync] publish failed for account %d", accountID)
			return apperr.ServiceUnavailable("sync queue", err)
		}
		return response.Accepted(c, fiber.Map{"account_id": accountID, "queued": true})
	}

	result, err := h.syncService.SyncAccount(c.Context(), accountID, opts)
	if err != nil {
		appErr := mapError(err, accountID)
		if result != nil {
			appErr.WithDetail("log_id", result.LogID).
				WithDetail("status", string(result.Status)).
				WithDetail("fetched", result.Fetched).
				WithDetail("created", result.Created).
				WithDetail("updated", result.Updated).
				WithDetail("errors", result.Errors)
		}
		return appErr
	}
	return response.OK(c, result)
}

func (h *SyncHandler) ListLogs(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.accounts.GetAccount(c.Context(), userID, accountID); err != nil {
		return mapError(err, accountID)
	}

	limit := QueryLimit(c, 20, 100)
	logs, err := h.syncService.ListSyncLogs(c.Context(), accountID, limit)
	if err != nil {
		return mapError(err, accountID)
	}
	return response.OKWithMeta(c, logs, response.ListMeta(len(logs), limit))
}
