package zoho

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/pkg/httputil"
	"mail_worker/pkg/logger"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

// DefaultAccountsURL is the US data center authorization server.
const DefaultAccountsURL = "https://accounts.zoho.com"

// DefaultScopes covers read/write mail access.
var DefaultScopes = []string{
	"ZohoMail.accounts.READ",
	"ZohoMail.folders.READ",
	"ZohoMail.messages.ALL",
}

// OAuthConfig holds the registered client credentials.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AccountsURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// OAuthClient implements out.OAuthClient against the Zoho accounts server.
// Only transient failures count against its breaker; a bad grant is a
// healthy answer from the server.
type OAuthClient struct {
	config *oauth2.Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	now    func() time.Time
}

var _ out.OAuthClient = (*OAuthClient)(nil)

func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	accounts := strings.TrimRight(cfg.AccountsURL, "/")
	if accounts == "" {
		accounts = DefaultAccountsURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httputil.NewOptimizedClient(httputil.TokenClientConfig())
	}

	settings := gobreaker.Settings{
		Name:        "zoho-oauth",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, out.ErrTransientToken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   accounts + "/oauth/v2/auth",
				TokenURL:  accounts + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		now:    time.Now,
	}
}

// AuthCodeURL returns the consent URL. Offline access with forced consent
// makes the server issue a refresh token every time.
func (c *OAuthClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades an authorization code for tokens.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if code == "" {
		return nil, &out.MailError{Kind: out.KindTokenExchange, Op: "exchange_code", Message: "empty authorization code"}
	}
	tok, err := c.execute(func() (*oauth2.Token, error) {
		return c.config.Exchange(c.httpContext(ctx), code)
	})
	if err != nil {
		return nil, classifyExchangeError(err)
	}
	return c.toTokenSet(tok), nil
}

// RefreshToken obtains a new access token. The returned set carries the
// original refresh token when the server does not rotate it.
func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	if refreshToken == "" {
		return nil, &out.MailError{Kind: out.KindReauthRequired, Op: "refresh_token", Message: "no refresh token stored"}
	}
	tok, err := c.execute(func() (*oauth2.Token, error) {
		src := c.config.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		return src.Token()
	})
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	ts := c.toTokenSet(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

func (c *OAuthClient) execute(fn func() (*oauth2.Token, error)) (*oauth2.Token, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		tok, err := fn()
		if err != nil {
			// classify inside so IsSuccessful sees the kind
			return nil, markTransient(err)
		}
		return tok, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &out.MailError{Kind: out.KindTransientToken, Op: "token_endpoint", Message: "authorization server circuit open", Err: err}
		}
		return nil, err
	}
	return res.(*oauth2.Token), nil
}

func (c *OAuthClient) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.client)
}

func (c *OAuthClient) toTokenSet(tok *oauth2.Token) *domain.TokenSet {
	ts := &domain.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if ts.ExpiresAt.IsZero() {
		// Zoho access tokens live one hour
		ts.ExpiresAt = c.now().Add(time.Hour)
	}
	return ts
}

// markTransient wraps network, 5xx and 429 failures so the breaker and the
// classifiers agree on what is worth retrying.
func markTransient(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if status >= 500 || status == http.StatusTooManyRequests {
			return &out.MailError{Kind: out.KindTransientToken, Op: "token_endpoint", StatusCode: status, Code: re.ErrorCode, Err: err}
		}
		return err
	}
	return &out.MailError{Kind: out.KindTransientToken, Op: "token_endpoint", Message: "authorization server unreachable", Err: err}
}

var reauthCodes = map[string]bool{
	"invalid_grant":       true,
	"invalid_token":       true,
	"invalid_client":      true,
	"unauthorized_client": true,
	"invalid_code":        true,
}

func classifyRefreshError(err error) error {
	if errors.Is(err, out.ErrTransientToken) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		if reauthCodes[re.ErrorCode] || status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return &out.MailError{Kind: out.KindReauthRequired, Op: "refresh_token", StatusCode: status, Code: re.ErrorCode, Message: "refresh token rejected", Err: err}
		}
		return &out.MailError{Kind: out.KindTransientToken, Op: "refresh_token", StatusCode: status, Code: re.ErrorCode, Err: err}
	}
	return &out.MailError{Kind: out.KindTransientToken, Op: "refresh_token", Err: err}
}

func classifyExchangeError(err error) error {
	me := &out.MailError{Kind: out.KindTokenExchange, Op: "exchange_code", Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			me.StatusCode = re.Response.StatusCode
		}
		me.Code = re.ErrorCode
		if re.ErrorCode == "invalid_code" || re.ErrorCode == "invalid_grant" {
			me.CodeExpired = true
			me.Message = "authorization code expired or already used"
		}
		return me
	}
	var prev *out.MailError
	if errors.As(err, &prev) {
		me.StatusCode = prev.StatusCode
		me.Message = "authorization server unavailable"
	}
	return me
}
