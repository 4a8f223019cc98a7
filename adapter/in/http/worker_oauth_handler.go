package http

import (
	"errors"
	"net/url"
	"strconv"

	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type OAuthHandler struct {
	oauthService in.OAuthService
	frontendURL  string
}

// NewOAuthHandler creates the handler. When frontendURL is set, the callback
// redirects there instead of answering with JSON.
func NewOAuthHandler(oauthService in.OAuthService, frontendURL string) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		frontendURL:  frontendURL,
	}
}

// RegisterPublic mounts the provider callback, which arrives without a JWT.
func (h *OAuthHandler) RegisterPublic(r fiber.Router) {
	r.Get("/oauth/zoho/callback", h.Callback)
}

func (h *OAuthHandler) Register(r fiber.Router) {
	r.Get("/oauth/zoho/connect", h.Connect)

	accounts := r.Group("/accounts")
	accounts.Get("/", h.ListAccounts)
	accounts.Get("/:id", h.GetAccount)
	accounts.Post("/:id/default", h.SetDefault)
	accounts.Delete("/:id", h.Disconnect)
}

func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}

	authURL, err := h.oauthService.Connect(c.Context(), userID)
	if err != nil {
		logger.WithError(err).Error("[OAuthHandler.Connect] failed for user %s", userID)
		return mapError(err, 0)
	}

	if c.QueryBool("redirect", false) {
		return c.Redirect(authURL, fiber.StatusFound)
	}
	return response.OK(c, fiber.Map{"auth_url": authURL})
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	state := c.Query("state")
	code := c.Query("code")

	if providerErr := c.Query("error"); providerErr != "" {
		logger.Warn("[OAuthHandler.Callback] provider returned error: %s", providerErr)
		return h.callbackFailure(c, apperr.OAuthFailed("zoho", errors.New(providerErr)))
	}
	if state == "" {
		return h.callbackFailure(c, apperr.MissingField("state"))
	}
	if code == "" {
		return h.callbackFailure(c, apperr.MissingField("code"))
	}

	acc, err := h.oauthService.HandleCallback(c.Context(), state, code)
	if err != nil {
		logger.WithError(err).Warn("[OAuthHandler.Callback] callback failed")
		return h.callbackFailure(c, mapError(err, 0))
	}

	logger.Info("[OAuthHandler.Callback] connected account %d (%s)", acc.ID, acc.Email)
	if h.frontendURL != "" {
		q := url.Values{"connected": {strconv.FormatInt(acc.ID, 10)}}
		return c.Redirect(h.frontendURL+"/settings/accounts?"+q.Encode(), fiber.StatusFound)
	}
	return response.OK(c, acc)
}

func (h *OAuthHandler) callbackFailure(c *fiber.Ctx, appErr *apperr.AppError) error {
	if h.frontendURL == "" {
		return appErr
	}
	q := url.Values{"error": {appErr.Code}}
	return c.Redirect(h.frontendURL+"/settings/accounts?"+q.Encode(), fiber.StatusFound)
}

func (h *OAuthHandler) ListAccounts(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accounts, err := h.oauthService.ListAccounts(c.Context(), userID)
	if err != nil {
		return mapError(err, 0)
	}
	return response.OKWithMeta(c, accounts, &response.Meta{Total: len(accounts)})
}

func (h *OAuthHandler) GetAccount(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	acc, err := h.oauthService.GetAccount(c.Context(), userID, accountID)
	if err != nil {
		return mapError(err, accountID)
	}
	return response.OK(c, acc)
}

func (h *OAuthHandler) SetDefault(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.oauthService.SetDefaultAccount(c.Context(), userID, accountID); err != nil {
		return mapError(err, accountID)
	}
	return response.OK(c, fiber.Map{"account_id": accountID, "is_default": true})
}

// Disconnect deactivates the account, or deletes it with ?purge=true.
func (h *OAuthHandler) Disconnect(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	accountID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	purge := c.QueryBool("purge", false)
	if err := h.oauthService.Disconnect(c.Context(), userID, accountID, purge); err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return apperr.NotFound("account")
		}
		return mapError(err, accountID)
	}
	logger.Info("[OAuthHandler.Disconnect] account %d disconnected (purge=%v)", accountID, purge)
	return response.NoContent(c)
}
