package zoho

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"mail_worker/core/port/out"
)

func newTokenServer(t *testing.T, status int, body string) (*OAuthClient, *[]url.Values) {
	t.Helper()
	var forms []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/v2/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = r.ParseForm()
		forms = append(forms, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	c := NewOAuthClient(OAuthConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/callback",
		AccountsURL:  srv.URL,
		HTTPClient:   srv.Client(),
	})
	return c, &forms
}

func TestOAuthClient_AuthCodeURL(t *testing.T) {
	c := NewOAuthClient(OAuthConfig{ClientID: "cid", RedirectURL: "https://app/cb"})
	u, err := url.Parse(c.AuthCodeURL("st4te"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if !strings.HasPrefix(u.String(), DefaultAccountsURL+"/oauth/v2/auth") {
		t.Errorf("url = %s", u)
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" || q.Get("state") != "st4te" {
		t.Errorf("query = %v", q)
	}
}

func TestOAuthClient_ExchangeCode(t *testing.T) {
	c, forms := newTokenServer(t, http.StatusOK,
		`{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer","api_domain":"https://www.zohoapis.com"}`)

	ts, err := c.ExchangeCode(context.Background(), "code123")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if ts.AccessToken != "at" || ts.RefreshToken != "rt" || ts.ExpiresAt.IsZero() {
		t.Errorf("tokens = %+v", ts)
	}
	f := (*forms)[0]
	if f.Get("grant_type") != "authorization_code" || f.Get("client_id") != "cid" || f.Get("client_secret") != "secret" {
		t.Errorf("form = %v", f)
	}
}

func TestOAuthClient_ExchangeCodeExpired(t *testing.T) {
	c, _ := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_code"}`)
	_, err := c.ExchangeCode(context.Background(), "stale")
	var me *out.MailError
	if !errors.As(err, &me) || me.Kind != out.KindTokenExchange {
		t.Fatalf("err = %v, want token exchange error", err)
	}
	if !me.CodeExpired {
		t.Error("CodeExpired = false, want true")
	}
}

func TestOAuthClient_ExchangeOtherFailure(t *testing.T) {
	c, _ := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_redirect_uri"}`)
	_, err := c.ExchangeCode(context.Background(), "code")
	var me *out.MailError
	if !errors.As(err, &me) || me.Kind != out.KindTokenExchange || me.CodeExpired {
		t.Fatalf("err = %+v", err)
	}
}

func TestOAuthClient_RefreshClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`, out.ErrReauthorizationRequired},
		{"invalid code in 200", http.StatusOK, `{"error":"invalid_code"}`, out.ErrReauthorizationRequired},
		{"unauthorized", http.StatusUnauthorized, `{"error":"access_denied"}`, out.ErrReauthorizationRequired},
		{"server error", http.StatusBadGateway, `oops`, out.ErrTransientToken},
		{"throttled", http.StatusTooManyRequests, `{"error":"Access Denied"}`, out.ErrTransientToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTokenServer(t, tt.status, tt.body)
			_, err := c.RefreshToken(context.Background(), "rt")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOAuthClient_RefreshKeepsRefreshToken(t *testing.T) {
	c, forms := newTokenServer(t, http.StatusOK, `{"access_token":"new","expires_in":3600}`)
	ts, err := c.RefreshToken(context.Background(), "keep-me")
	if err != nil {
		t.Fatal(err)
	}
	if ts.AccessToken != "new" || ts.RefreshToken != "keep-me" {
		t.Errorf("tokens = %+v", ts)
	}
	if f := (*forms)[0]; f.Get("grant_type") != "refresh_token" || f.Get("refresh_token") != "keep-me" {
		t.Errorf("form = %v", f)
	}
}

func TestOAuthClient_RefreshWithoutToken(t *testing.T) {
	c := NewOAuthClient(OAuthConfig{})
	if _, err := c.RefreshToken(context.Background(), ""); !errors.Is(err, out.ErrReauthorizationRequired) {
		t.Errorf("err = %v", err)
	}
}

func TestOAuthClient_NetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	c := NewOAuthClient(OAuthConfig{AccountsURL: addr})
	if _, err := c.RefreshToken(context.Background(), "rt"); !errors.Is(err, out.ErrTransientToken) {
		t.Errorf("err = %v, want TransientTokenError", err)
	}
}
