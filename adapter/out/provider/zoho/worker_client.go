// Package zoho is the Zoho Mail provider: the OAuth client for the accounts
// server and the authenticated REST client for mail data.
package zoho

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/httputil"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the US data center mail API.
const DefaultBaseURL = "https://mail.zoho.com/api"

const maxResponseBytes = 50 << 20

// Operation names, also used as circuit breaker keys.
const (
	OpGetAccounts       = "get_accounts"
	OpListFolders       = "list_folders"
	OpListMessages      = "list_messages"
	OpMessageDetail     = "message_detail"
	OpSendMessage       = "send_message"
	OpUploadAttachment  = "upload_attachment"
	OpListAttachments   = "list_attachments"
	OpDownloadAttachmnt = "download_attachment"
)

// Limiter throttles outbound calls per key.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// AccountIDStore persists the resolved provider account id.
type AccountIDStore interface {
	UpdateProviderAccountID(ctx context.Context, accountID int64, providerAccountID string) error
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	// TokenSkew refreshes tokens this long before they expire.
	TokenSkew time.Duration
	// ResolveTimeout bounds GetAccountID before falling back.
	ResolveTimeout time.Duration
	Retry          resilience.RetryPolicy
}

// Client implements out.MailAPI.
type Client struct {
	baseURL        string
	http           *http.Client
	skew           time.Duration
	resolveTimeout time.Duration
	retry          resilience.RetryPolicy
	maxBody        int

	oauth   out.OAuthClient
	tokens  out.TokenPersister
	breaker *resilience.CircuitBreaker
	limiter Limiter
	ids     AccountIDStore

	refreshes singleflight.Group
	idCache   *expirable.LRU[int64, string]
	now       func() time.Time
}

var (
	_ out.MailAPI         = (*Client)(nil)
	_ out.MailboxResolver = (*Client)(nil)
)

// NewClient builds the mail API client. breaker is required; it carries the
// shared (account, operation) state.
func NewClient(cfg ClientConfig, oauth out.OAuthClient, tokens out.TokenPersister, breaker *resilience.CircuitBreaker) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httputil.NewOptimizedClient(httputil.MailAPIClientConfig())
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = time.Minute
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryPolicy(out.IsRetryable)
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = out.IsRetryable
	}
	if cfg.Retry.RetryAfter == nil {
		cfg.Retry.RetryAfter = out.RetryAfterOf
	}
	return &Client{
		baseURL:        base,
		http:           hc,
		skew:           cfg.TokenSkew,
		resolveTimeout: cfg.ResolveTimeout,
		retry:          cfg.Retry,
		maxBody:        maxResponseBytes,
		oauth:          oauth,
		tokens:         tokens,
		breaker:        breaker,
		idCache:        expirable.NewLRU[int64, string](4096, nil, 24*time.Hour),
		now:            time.Now,
	}
}

// WithLimiter enables per-account outbound throttling.
func (c *Client) WithLimiter(l Limiter) *Client {
	c.limiter = l
	return c
}

// WithAccountIDStore persists resolved provider account ids.
func (c *Client) WithAccountIDStore(s AccountIDStore) *Client {
	c.ids = s
	return c
}

// BreakerFailure decides which errors count against the circuit. Client
// errors and auth failures say nothing about provider health.
func BreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := out.KindOf(err)
	if !ok {
		return false
	}
	return kind == out.KindTransient || kind == out.KindRateLimited
}

// =============================================================================
// Account resolution
// =============================================================================

// GetAccountID resolves the provider's numeric account id for acc. When the
// lookup fails for any reason other than revoked credentials, the mail
// address is returned instead; the API accepts it in place of the id.
func (c *Client) GetAccountID(ctx context.Context, acc *domain.Account) (string, error) {
	if acc.ProviderAccountID != "" {
		return acc.ProviderAccountID, nil
	}
	if id, ok := c.idCache.Get(acc.ID); ok {
		acc.ProviderAccountID = id
		return id, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()

	var accounts []mailAccount
	err := c.call(rctx, acc, OpGetAccounts, func(ctx context.Context) error {
		return c.getJSON(ctx, acc, "/accounts", nil, &accounts)
	})
	if err != nil {
		if out.IsAccountFatal(err) || ctx.Err() != nil {
			return "", err
		}
		logger.WithError(err).WithField("account_id", acc.ID).
			Warn("[ZohoClient.GetAccountID] resolution failed, using mail address")
		return acc.Email, nil
	}

	for i := range accounts {
		if !accounts[i].matches(acc.Email) {
			continue
		}
		id := strconv.FormatInt(int64(accounts[i].AccountID), 10)
		c.idCache.Add(acc.ID, id)
		acc.ProviderAccountID = id
		if c.ids != nil {
			if err := c.ids.UpdateProviderAccountID(ctx, acc.ID, id); err != nil {
				logger.WithError(err).Warn("[ZohoClient.GetAccountID] failed to persist provider id for %d", acc.ID)
			}
		}
		return id, nil
	}

	logger.WithField("account_id", acc.ID).Warn("[ZohoClient.GetAccountID] %s not in account list, using mail address", acc.Email)
	return acc.Email, nil
}

// ResolveMailbox reads the primary mailbox of a grant that is not yet tied
// to a stored account. The tokens are used as is, without refresh.
func (c *Client) ResolveMailbox(ctx context.Context, tokens *domain.TokenSet) (*domain.Mailbox, error) {
	if tokens == nil || tokens.AccessToken == "" {
		return nil, &out.MailError{Kind: out.KindAuthentication, Op: OpGetAccounts, Message: "no access token"}
	}
	acc := &domain.Account{}
	acc.ApplyTokens(tokens)

	var accounts []mailAccount
	err := resilience.Retry(ctx, c.retry, OpGetAccounts, func(ctx context.Context) error {
		status, hdr, body, err := c.roundTrip(ctx, acc, tokens.AccessToken, request{method: http.MethodGet, path: "/accounts"})
		if err != nil {
			return err
		}
		if err := checkStatus(OpGetAccounts, status, hdr, body); err != nil {
			return err
		}
		return decodeEnvelope("/accounts", body, &accounts)
	})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &out.MailError{Kind: out.KindAPI, Op: OpGetAccounts, Message: "grant has no mail account"}
	}

	a := accounts[0]
	mb := &domain.Mailbox{
		ProviderAccountID: strconv.FormatInt(int64(a.AccountID), 10),
		Email:             a.PrimaryEmailAddress,
		DisplayName:       a.AccountDisplayName,
	}
	if mb.Email == "" {
		mb.Email = a.MailboxAddress
	}
	for _, e := range a.EmailAddress {
		if mb.Email == "" || bool(e.IsPrimary) {
			mb.Email = e.MailID
		}
	}
	if mb.Email == "" {
		return nil, &out.MailError{Kind: out.KindAPI, Op: OpGetAccounts, Message: "mail account has no address"}
	}
	mb.Email = domain.NormalizeAddress(mb.Email)
	return mb, nil
}

// =============================================================================
// Read operations
// =============================================================================

func (c *Client) ListFolders(ctx context.Context, acc *domain.Account) ([]domain.FolderDTO, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	var folders []folder
	err = c.call(ctx, acc, OpListFolders, func(ctx context.Context) error {
		return c.getJSON(ctx, acc, "/accounts/"+url.PathEscape(pid)+"/folders", nil, &folders)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.FolderDTO, 0, len(folders))
	for i := range folders {
		result = append(result, folders[i].toDTO())
	}
	return result, nil
}

// ClampLimit bounds a page size to what the API accepts.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > out.MaxPageSize {
		return out.MaxPageSize
	}
	return limit
}

// ListMessages fetches one page. start is a 0-based offset; the API itself
// counts from 1.
func (c *Client) ListMessages(ctx context.Context, acc *domain.Account, folderID string, limit, start int) ([]domain.MessageDTO, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	q := url.Values{}
	q.Set("folderId", folderID)
	q.Set("limit", strconv.Itoa(ClampLimit(limit)))
	q.Set("start", strconv.Itoa(start+1))
	q.Set("includeto", "true")

	var msgs []message
	err = c.call(ctx, acc, OpListMessages, func(ctx context.Context) error {
		return c.getJSON(ctx, acc, "/accounts/"+url.PathEscape(pid)+"/messages/view", q, &msgs)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.MessageDTO, 0, len(msgs))
	for i := range msgs {
		dto := msgs[i].toDTO()
		if dto.FolderID == "" {
			dto.FolderID = folderID
		}
		result = append(result, dto)
	}
	return result, nil
}

// GetMessageDetail fetches the full body of one message.
func (c *Client) GetMessageDetail(ctx context.Context, acc *domain.Account, folderID, messageID string) (*domain.MessageDTO, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/accounts/%s/folders/%s/messages/%s/content",
		url.PathEscape(pid), url.PathEscape(folderID), url.PathEscape(messageID))

	var content messageContent
	err = c.call(ctx, acc, OpMessageDetail, func(ctx context.Context) error {
		return c.getJSON(ctx, acc, path, url.Values{"includeBlockContent": {"true"}}, &content)
	})
	if err != nil {
		return nil, err
	}
	dto := &domain.MessageDTO{MessageID: messageID, FolderID: folderID}
	if content.MessageID != "" {
		dto.MessageID = content.MessageID
	}
	if looksLikeHTML(content.Content) {
		dto.BodyHTML = content.Content
		dto.BodyText = htmlToText(content.Content)
	} else {
		dto.BodyText = content.Content
	}
	return dto, nil
}

// =============================================================================
// Send & attachments
// =============================================================================

func (c *Client) SendMessage(ctx context.Context, acc *domain.Account, req *domain.SendRequest) (*domain.SentMessage, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	from := req.From
	if from == "" {
		from = acc.Email
	}
	payload := sendRequest{
		FromAddress: from,
		ToAddress:   strings.Join(req.To, ","),
		CcAddress:   strings.Join(req.Cc, ","),
		BccAddress:  strings.Join(req.Bcc, ","),
		Subject:     req.Subject,
		Content:     req.Content,
		MailFormat:  "plaintext",
	}
	if req.HTML {
		payload.MailFormat = "html"
	}
	for _, a := range req.Attachments {
		payload.Attachments = append(payload.Attachments, attachmentReference{
			StoreName: a.StoreName, AttachmentName: a.Name, AttachmentPath: a.Path,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var sent sentMessage
	// sending is not idempotent: no retry, breaker only
	err = c.breaker.Execute(ctx, resilience.Key(acc.ID, OpSendMessage), func(ctx context.Context) error {
		raw, err := c.send(ctx, acc, OpSendMessage, request{
			method: http.MethodPost, path: "/accounts/" + url.PathEscape(pid) + "/messages",
			body: body, contentType: "application/json",
		})
		if err != nil {
			return err
		}
		return decodeEnvelope(OpSendMessage, raw, &sent)
	})
	if err != nil {
		return nil, err
	}
	return &domain.SentMessage{MessageID: sent.MessageID}, nil
}

func (c *Client) UploadAttachment(ctx context.Context, acc *domain.Account, name string, r io.Reader) (*domain.UploadedAttachment, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(c.maxBody)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > c.maxBody {
		return nil, &out.MailError{Kind: out.KindAPI, Op: OpUploadAttachment, Message: "attachment too large"}
	}

	q := url.Values{"fileName": {name}}
	var refs []attachmentReference
	err = c.call(ctx, acc, OpUploadAttachment, func(ctx context.Context) error {
		raw, err := c.send(ctx, acc, OpUploadAttachment, request{
			method: http.MethodPost, path: "/accounts/" + url.PathEscape(pid) + "/messages/attachments",
			query: q, body: data, contentType: "application/octet-stream",
		})
		if err != nil {
			return err
		}
		return decodeOneOrMany(OpUploadAttachment, raw, &refs)
	})
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, &out.MailError{Kind: out.KindAPI, Op: OpUploadAttachment, Message: "empty upload response"}
	}
	return &domain.UploadedAttachment{
		StoreName: refs[0].StoreName,
		Name:      refs[0].AttachmentName,
		Path:      refs[0].AttachmentPath,
	}, nil
}

func (c *Client) ListAttachments(ctx context.Context, acc *domain.Account, folderID, messageID string) ([]domain.AttachmentDTO, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/accounts/%s/folders/%s/messages/%s/attachmentinfo",
		url.PathEscape(pid), url.PathEscape(folderID), url.PathEscape(messageID))
	var info attachmentInfo
	err = c.call(ctx, acc, OpListAttachments, func(ctx context.Context) error {
		return c.getJSON(ctx, acc, path, nil, &info)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.AttachmentDTO, 0, len(info.Attachments))
	for _, a := range info.Attachments {
		result = append(result, domain.AttachmentDTO{
			AttachmentID: a.AttachmentID,
			Name:         a.AttachmentName,
			Size:         int64(a.AttachmentSize),
			ContentType:  a.AttachmentType,
		})
	}
	return result, nil
}

func (c *Client) DownloadAttachment(ctx context.Context, acc *domain.Account, folderID, messageID, attachmentID string) ([]byte, error) {
	pid, err := c.GetAccountID(ctx, acc)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/accounts/%s/folders/%s/messages/%s/attachments/%s",
		url.PathEscape(pid), url.PathEscape(folderID), url.PathEscape(messageID), url.PathEscape(attachmentID))
	var data []byte
	err = c.call(ctx, acc, OpDownloadAttachmnt, func(ctx context.Context) error {
		raw, err := c.send(ctx, acc, OpDownloadAttachmnt, request{method: http.MethodGet, path: path})
		data = raw
		return err
	})
	return data, err
}

// =============================================================================
// Transport
// =============================================================================

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// call runs fn under the account's breaker for op, retrying transient
// failures per the client's policy.
func (c *Client) call(ctx context.Context, acc *domain.Account, op string, fn func(ctx context.Context) error) error {
	key := resilience.Key(acc.ID, op)
	return resilience.Retry(ctx, c.retry, op, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, key, fn)
	})
}

func (c *Client) getJSON(ctx context.Context, acc *domain.Account, path string, q url.Values, dst any) error {
	raw, err := c.send(ctx, acc, "GET "+path, request{method: http.MethodGet, path: path, query: q})
	if err != nil {
		return err
	}
	return decodeEnvelope(path, raw, dst)
}

// send performs one authenticated request. A 401 triggers exactly one
// forced refresh and one resend; a second 401 means the grant is gone.
func (c *Client) send(ctx context.Context, acc *domain.Account, op string, r request) ([]byte, error) {
	token, err := c.accessToken(ctx, acc, false)
	if err != nil {
		return nil, err
	}
	status, hdr, body, err := c.roundTrip(ctx, acc, token, r)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		logger.WithField("account_id", acc.ID).Debug("[ZohoClient] %s returned 401, refreshing token", op)
		token, err = c.accessToken(ctx, acc, true)
		if err != nil {
			return nil, err
		}
		status, hdr, body, err = c.roundTrip(ctx, acc, token, r)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &out.MailError{
				Kind: out.KindReauthRequired, Op: op, StatusCode: status,
				Message: "access token rejected after refresh",
			}
		}
	}
	if err := checkStatus(op, status, hdr, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, acc *domain.Account, token string, r request) (int, http.Header, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, strconv.FormatInt(acc.ID, 10)); err != nil {
			return 0, nil, nil, err
		}
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, ctxErr
		}
		msg := "request failed"
		if httputil.IsTimeout(err) {
			msg = "request timed out"
		}
		return 0, nil, nil, &out.MailError{Kind: out.KindTransient, Op: r.method + " " + r.path, Message: msg, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxBody)+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, nil, ctxErr
		}
		return 0, nil, nil, &out.MailError{Kind: out.KindTransient, Op: r.method + " " + r.path, Message: "reading response", Err: err}
	}
	if len(data) > c.maxBody {
		return 0, nil, nil, &out.MailError{Kind: out.KindAPI, Op: r.method + " " + r.path, StatusCode: resp.StatusCode, Message: "response too large"}
	}
	return resp.StatusCode, resp.Header, data, nil
}

// accessToken returns a usable access token, refreshing when expired or
// when force is set. Concurrent refreshes for one account are collapsed.
func (c *Client) accessToken(ctx context.Context, acc *domain.Account, force bool) (string, error) {
	if !force && !acc.Tokens().Expired(c.now(), c.skew) {
		return acc.AccessToken, nil
	}
	if acc.RefreshToken == "" {
		return "", &out.MailError{Kind: out.KindReauthRequired, Op: "refresh_token", Message: "no refresh token stored"}
	}

	v, err, _ := c.refreshes.Do(strconv.FormatInt(acc.ID, 10), func() (interface{}, error) {
		ts, err := c.oauth.RefreshToken(ctx, acc.RefreshToken)
		if err != nil {
			return nil, err
		}
		if c.tokens != nil {
			if err := c.tokens.PersistTokens(ctx, acc.ID, ts); err != nil {
				logger.WithError(err).Error("[ZohoClient] failed to persist refreshed token for account %d", acc.ID)
			}
		}
		return ts, nil
	})
	if err != nil {
		logger.WithError(err).WithField("account_id", acc.ID).Warn("[ZohoClient] token refresh failed")
		return "", err
	}
	acc.ApplyTokens(v.(*domain.TokenSet))
	return acc.AccessToken, nil
}

// =============================================================================
// Response handling
// =============================================================================

func checkStatus(op string, status int, hdr http.Header, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	me := &out.MailError{Op: op, StatusCode: status}
	me.Code, me.Message = parseAPIError(body)

	switch {
	case status == http.StatusUnauthorized:
		me.Kind = out.KindAuthentication
	case status == http.StatusTooManyRequests:
		me.Kind = out.KindRateLimited
		me.RetryAfter = parseRetryAfter(hdr.Get("Retry-After"), time.Now())
	case status >= 500:
		me.Kind = out.KindTransient
	default:
		me.Kind = out.KindAPI
	}
	return me
}

func parseAPIError(body []byte) (code, msg string) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", strings.TrimSpace(truncate(string(body), 200))
	}
	msg = env.Status.Description
	var data apiErrorData
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &data) == nil {
		code = data.ErrorCode
		if data.MoreInfo != "" {
			msg = strings.TrimSpace(msg + ": " + data.MoreInfo)
		}
	}
	return code, msg
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func decodeEnvelope(op string, raw []byte, dst any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &out.MailError{Kind: out.KindAPI, Op: op, Message: "malformed response", Err: err}
	}
	if env.Status.Code >= 400 {
		return &out.MailError{Kind: out.KindAPI, Op: op, StatusCode: env.Status.Code, Message: env.Status.Description}
	}
	if dst == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return &out.MailError{Kind: out.KindAPI, Op: op, Message: "unexpected data shape", Err: err}
	}
	return nil
}

// decodeOneOrMany accepts data as either an object or a list of objects.
func decodeOneOrMany(op string, raw []byte, dst *[]attachmentReference) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &out.MailError{Kind: out.KindAPI, Op: op, Message: "malformed response", Err: err}
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 {
		return nil
	}
	if data[0] == '[' {
		return json.Unmarshal(data, dst)
	}
	var one attachmentReference
	if err := json.Unmarshal(data, &one); err != nil {
		return &out.MailError{Kind: out.KindAPI, Op: op, Message: "unexpected data shape", Err: err}
	}
	*dst = append(*dst, one)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsCircuitOpen reports whether err came from an open breaker rather than the API.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}
