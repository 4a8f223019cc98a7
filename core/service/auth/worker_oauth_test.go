package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"mail_worker/adapter/out/persistence"
	"mail_worker/adapter/out/redisstore"
	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/infra/database"

	"github.com/google/uuid"
)

type fakeOAuth struct {
	exchangeErr error
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/oauth/v2/auth?state=" + url.QueryEscape(state)
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code string) (*domain.TokenSet, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &domain.TokenSet{
		AccessToken:  "at-" + code,
		RefreshToken: "rt-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeOAuth) RefreshToken(context.Context, string) (*domain.TokenSet, error) {
	return nil, errors.New("not used")
}

// fakeResolver maps an access token to a mailbox address.
type fakeResolver struct {
	byToken map[string]string
}

func (f *fakeResolver) ResolveMailbox(_ context.Context, t *domain.TokenSet) (*domain.Mailbox, error) {
	email, ok := f.byToken[t.AccessToken]
	if !ok {
		return nil, out.NewMailError(out.KindAuthentication, "resolve_mailbox", 401, "unknown token", nil)
	}
	return &domain.Mailbox{ProviderAccountID: "pa-" + email, Email: email, DisplayName: "Support"}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*domain.SyncJob
}

func (p *recordingPublisher) PublishSyncJob(_ context.Context, job *domain.SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

type fixture struct {
	svc       *OAuthService
	accounts  *persistence.AccountAdapter
	oauth     *fakeOAuth
	publisher *recordingPublisher
	user      uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := persistence.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fx := &fixture{
		accounts:  persistence.NewAccountAdapter(db, nil),
		oauth:     &fakeOAuth{},
		publisher: &recordingPublisher{},
		user:      uuid.New(),
	}
	resolver := &fakeResolver{byToken: map[string]string{
		"at-one": "Support@Example.com",
		"at-two": "sales@example.com",
	}}
	fx.svc = NewOAuthService(fx.accounts, fx.oauth, resolver, redisstore.NewMemoryOAuthStateStore())
	fx.svc.SetSyncPublisher(fx.publisher)
	return fx
}

// connect runs the connect + callback round trip for code.
func (fx *fixture) connect(t *testing.T, code string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	authURL, err := fx.svc.Connect(ctx, fx.user)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	acc, err := fx.svc.HandleCallback(ctx, u.Query().Get("state"), code)
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	return acc
}

func TestOAuthService_HandleCallback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	acc := fx.connect(t, "one")
	if acc.Email != "support@example.com" {
		t.Errorf("Email = %q, want normalized address", acc.Email)
	}
	if !acc.IsDefault {
		t.Error("first account should become default")
	}

	stored, err := fx.accounts.GetByID(ctx, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AccessToken != "at-one" || stored.RefreshToken != "rt-one" {
		t.Errorf("tokens = %q/%q", stored.AccessToken, stored.RefreshToken)
	}
	if !stored.IsActive || !stored.SyncEnabled {
		t.Errorf("active=%v sync=%v, want both true", stored.IsActive, stored.SyncEnabled)
	}
	if stored.ProviderAccountID != "pa-Support@Example.com" {
		t.Errorf("ProviderAccountID = %q", stored.ProviderAccountID)
	}
	if len(fx.publisher.jobs) != 1 || fx.publisher.jobs[0].AccountID != acc.ID {
		t.Errorf("published jobs = %+v, want one for account %d", fx.publisher.jobs, acc.ID)
	}

	second := fx.connect(t, "two")
	if second.IsDefault {
		t.Error("second account must not steal the default")
	}

	// reconnecting the same mailbox updates the row in place
	again := fx.connect(t, "one")
	if again.ID != acc.ID {
		t.Errorf("reconnect created account %d, want %d", again.ID, acc.ID)
	}
}

func TestOAuthService_HandleCallback_StateIsSingleUse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	authURL, _ := fx.svc.Connect(ctx, fx.user)
	u, _ := url.Parse(authURL)
	state := u.Query().Get("state")

	if _, err := fx.svc.HandleCallback(ctx, state, "one"); err != nil {
		t.Fatalf("first callback error = %v", err)
	}
	if _, err := fx.svc.HandleCallback(ctx, state, "one"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed callback error = %v, want ErrInvalidState", err)
	}
	if _, err := fx.svc.HandleCallback(ctx, "forged", "one"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("unknown state error = %v, want ErrInvalidState", err)
	}
}

func TestOAuthService_HandleCallback_ExpiredCode(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.oauth.exchangeErr = &out.MailError{Kind: out.KindTokenExchange, Op: "exchange_code", Code: "invalid_code", CodeExpired: true}

	authURL, _ := fx.svc.Connect(ctx, fx.user)
	u, _ := url.Parse(authURL)
	_, err := fx.svc.HandleCallback(ctx, u.Query().Get("state"), "one")
	if !errors.Is(err, out.ErrTokenExchange) {
		t.Fatalf("error = %v, want ErrTokenExchange", err)
	}
	var me *out.MailError
	if !errors.As(err, &me) || !me.CodeExpired {
		t.Errorf("CodeExpired not surfaced: %v", err)
	}
	if accs, _ := fx.accounts.ListByUser(ctx, fx.user); len(accs) != 0 {
		t.Errorf("accounts = %d, want none after failed exchange", len(accs))
	}
}

func TestOAuthService_Disconnect(t *testing.T) {
	tests := []struct {
		name  string
		purge bool
	}{
		{"deactivate", false},
		{"purge", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			ctx := context.Background()
			first := fx.connect(t, "one")
			second := fx.connect(t, "two")

			if err := fx.svc.Disconnect(ctx, fx.user, first.ID, tt.purge); err != nil {
				t.Fatalf("Disconnect() error = %v", err)
			}

			got, err := fx.accounts.GetByID(ctx, first.ID)
			if tt.purge {
				if !errors.Is(err, out.ErrNotFound) {
					t.Errorf("purged account lookup error = %v, want ErrNotFound", err)
				}
			} else {
				if err != nil {
					t.Fatal(err)
				}
				if got.IsActive || got.SyncEnabled || got.AccessToken != "" || got.RefreshToken != "" {
					t.Errorf("deactivated account = %+v, want inactive with no tokens", got)
				}
				if got.IsDefault {
					t.Error("deactivated account kept the default flag")
				}
			}

			promoted, err := fx.accounts.GetByID(ctx, second.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !promoted.IsDefault {
				t.Error("remaining active account was not promoted to default")
			}
		})
	}
}

func TestOAuthService_OwnershipChecks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	acc := fx.connect(t, "one")
	stranger := uuid.New()

	if _, err := fx.svc.GetAccount(ctx, stranger, acc.ID); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("GetAccount() error = %v, want ErrNotFound", err)
	}
	if err := fx.svc.Disconnect(ctx, stranger, acc.ID, true); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("Disconnect() error = %v, want ErrNotFound", err)
	}
	if err := fx.svc.SetDefaultAccount(ctx, stranger, acc.ID); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("SetDefaultAccount() error = %v, want ErrNotFound", err)
	}
}

func TestOAuthService_SetDefaultAccount(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first := fx.connect(t, "one")
	second := fx.connect(t, "two")

	if err := fx.svc.SetDefaultAccount(ctx, fx.user, second.ID); err != nil {
		t.Fatalf("SetDefaultAccount() error = %v", err)
	}
	accs, err := fx.svc.ListAccounts(ctx, fx.user)
	if err != nil {
		t.Fatal(err)
	}
	defaults := 0
	for _, a := range accs {
		if a.IsDefault {
			defaults++
			if a.ID != second.ID {
				t.Errorf("default = %d, want %d", a.ID, second.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("default accounts = %d, want 1", defaults)
	}

	if err := fx.svc.Disconnect(ctx, fx.user, first.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := fx.svc.SetDefaultAccount(ctx, fx.user, first.ID); !errors.Is(err, ErrAccountInactive) {
		t.Errorf("SetDefaultAccount(inactive) error = %v, want ErrAccountInactive", err)
	}
}

func TestOAuthService_TokenLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	acc := fx.connect(t, "one")

	exp := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	if err := fx.svc.PersistTokens(ctx, acc.ID, &domain.TokenSet{AccessToken: "at-new", ExpiresAt: exp}); err != nil {
		t.Fatalf("PersistTokens() error = %v", err)
	}
	got, _ := fx.accounts.GetByID(ctx, acc.ID)
	if got.AccessToken != "at-new" || got.RefreshToken != "rt-one" {
		t.Errorf("tokens = %q/%q, want new access token and kept refresh token", got.AccessToken, got.RefreshToken)
	}

	if err := fx.svc.MarkReauthRequired(ctx, acc.ID); err != nil {
		t.Fatalf("MarkReauthRequired() error = %v", err)
	}
	got, _ = fx.accounts.GetByID(ctx, acc.ID)
	if got.SyncEnabled || !got.IsActive {
		t.Errorf("sync=%v active=%v, want sync disabled on an active account", got.SyncEnabled, got.IsActive)
	}
	if !got.IsDefault {
		t.Error("MarkReauthRequired cleared the default flag")
	}
}
