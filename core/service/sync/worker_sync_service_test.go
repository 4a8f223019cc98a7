package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mail_worker/adapter/out/persistence"
	"mail_worker/adapter/out/redisstore"
	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/infra/database"
	"mail_worker/pkg/resilience"

	"github.com/google/uuid"
)

// =============================================================================
// Fakes
// =============================================================================

type listCall struct {
	folder       string
	limit, start int
}

type fakeMail struct {
	mu          sync.Mutex
	folders     []domain.FolderDTO
	messages    map[string][]domain.MessageDTO
	details     map[string]*domain.MessageDTO
	foldersErr  error
	listErr     map[string]error
	onList      func(call int) error
	listCalls   []listCall
	detailCalls int
}

func newFakeMail() *fakeMail {
	return &fakeMail{
		folders: []domain.FolderDTO{
			{FolderID: "f-inbox", Name: "Inbox", Type: "Inbox", Path: "/Inbox"},
			{FolderID: "f-sent", Name: "Sent", Type: "Sent", Path: "/Sent"},
		},
		messages: make(map[string][]domain.MessageDTO),
		details:  make(map[string]*domain.MessageDTO),
		listErr:  make(map[string]error),
	}
}

func (f *fakeMail) GetAccountID(_ context.Context, acc *domain.Account) (string, error) {
	return acc.Email, nil
}

func (f *fakeMail) ListFolders(context.Context, *domain.Account) ([]domain.FolderDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foldersErr != nil {
		return nil, f.foldersErr
	}
	return append([]domain.FolderDTO(nil), f.folders...), nil
}

func (f *fakeMail) ListMessages(ctx context.Context, _ *domain.Account, folderID string, limit, start int) ([]domain.MessageDTO, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, listCall{folder: folderID, limit: limit, start: start})
	n := len(f.listCalls)
	hook := f.onList
	err := f.listErr[folderID]
	all := f.messages[folderID]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(n); err != nil {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]domain.MessageDTO(nil), all[start:end]...), nil
}

func (f *fakeMail) GetMessageDetail(_ context.Context, _ *domain.Account, _, messageID string) (*domain.MessageDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if d, ok := f.details[messageID]; ok {
		return d, nil
	}
	return nil, out.NewMailError(out.KindAPI, "message_detail", 404, "not found", nil)
}

func (f *fakeMail) callsFor(folder string) []listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []listCall
	for _, c := range f.listCalls {
		if c.folder == folder {
			calls = append(calls, c)
		}
	}
	return calls
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	svc      *Service
	api      *fakeMail
	acc      *domain.Account
	accounts *persistence.AccountAdapter
	folders  *persistence.FolderAdapter
	emails   *persistence.EmailAdapter
	threads  *persistence.ThreadAdapter
	logs     *persistence.SyncLogAdapter
	locker   *redisstore.MemoryAccountLocker
	degrader *resilience.Degrader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := persistence.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	fx := &fixture{
		api:      newFakeMail(),
		accounts: persistence.NewAccountAdapter(db, nil),
		folders:  persistence.NewFolderAdapter(db),
		emails:   persistence.NewEmailAdapter(db),
		threads:  persistence.NewThreadAdapter(db),
		logs:     persistence.NewSyncLogAdapter(db),
		locker:   redisstore.NewMemoryAccountLocker(),
		degrader: resilience.NewDegrader(resilience.NewMemoryFlagStore(time.Minute), resilience.DegraderConfig{}),
	}
	fx.acc = &domain.Account{
		UserID:       uuid.New(),
		Email:        "me@example.com",
		AccessToken:  "at",
		RefreshToken: "rt",
		IsActive:     true,
		SyncEnabled:  true,
	}
	if err := fx.accounts.Upsert(ctx, fx.acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	fx.svc = NewService(Deps{
		Accounts: fx.accounts,
		Folders:  fx.folders,
		Emails:   fx.emails,
		Threads:  fx.threads,
		Logs:     fx.logs,
		API:      fx.api,
		Locker:   fx.locker,
		Degrader: fx.degrader,
	}, DefaultConfig())
	return fx
}

func (fx *fixture) folder(t *testing.T, pid string) *domain.Folder {
	t.Helper()
	f, err := fx.folders.GetByProviderID(context.Background(), fx.acc.ID, pid)
	if err != nil {
		t.Fatalf("folder %s: %v", pid, err)
	}
	return f
}

func (fx *fixture) email(t *testing.T, mid string) *domain.Email {
	t.Helper()
	e, err := fx.emails.GetByProviderMessageID(context.Background(), mid)
	if err != nil {
		t.Fatalf("email %s: %v", mid, err)
	}
	return e
}

var longHTML = "<p>" + strings.Repeat("lorem ipsum ", 120) + "</p>"

func msg(id, thread string, read bool, at time.Time) domain.MessageDTO {
	return domain.MessageDTO{
		MessageID:  id,
		ThreadID:   thread,
		Subject:    "Subject " + id,
		FromEmail:  "a@x.com",
		To:         []string{"me@example.com"},
		BodyHTML:   longHTML,
		IsRead:     read,
		ReceivedAt: at,
	}
}

func genMessages(prefix string, n int) []domain.MessageDTO {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]domain.MessageDTO, n)
	for i := range msgs {
		msgs[i] = msg(fmt.Sprintf("%s-%03d", prefix, i), "", i%2 == 0, base.Add(-time.Duration(i)*time.Minute))
	}
	return msgs
}

// =============================================================================
// Tests
// =============================================================================

func TestSyncAccount_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fx.api.messages["f-inbox"] = []domain.MessageDTO{
		msg("m1", "t1", false, at),
		msg("m2", "t1", true, at.Add(time.Hour)),
		msg("m3", "", false, at.Add(2*time.Hour)),
	}
	fx.api.messages["f-sent"] = []domain.MessageDTO{msg("m4", "", true, at)}

	first, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Status != domain.SyncStatusSuccess || first.Created != 4 || first.Fetched != 4 {
		t.Fatalf("first sync = %+v", first)
	}

	second, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Created != 0 || second.Updated != 0 || second.Fetched != 4 {
		t.Errorf("second sync counts = %+v, want fetched=4 created=0 updated=0", second.SyncCounts)
	}

	n, err := fx.emails.CountByAccount(ctx, fx.acc.ID)
	if err != nil || n != 4 {
		t.Fatalf("email count = %d, %v; want 4", n, err)
	}

	e1 := fx.email(t, "m1")
	if e1.ThreadID == nil {
		t.Fatal("m1 has no thread")
	}
	th, err := fx.threads.GetByID(ctx, *e1.ThreadID)
	if err != nil {
		t.Fatal(err)
	}
	if th.MessageCount != 2 || th.UnreadCount != 1 {
		t.Errorf("thread stats = %d/%d, want 2/1", th.MessageCount, th.UnreadCount)
	}
}

func TestSyncAccount_PagesUntilShortPage(t *testing.T) {
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("p", 237)

	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{FolderFilter: "f-inbox"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	calls := fx.api.callsFor("f-inbox")
	if len(calls) != 2 {
		t.Fatalf("page requests = %d, want 2 (%+v)", len(calls), calls)
	}
	if calls[0] != (listCall{"f-inbox", 200, 0}) || calls[1] != (listCall{"f-inbox", 200, 200}) {
		t.Errorf("calls = %+v", calls)
	}
	if res.Fetched != 237 || res.Created != 237 {
		t.Errorf("counts = %+v", res.SyncCounts)
	}
	if len(fx.api.callsFor("f-sent")) != 0 {
		t.Error("filtered sync listed another folder")
	}
}

func TestSyncAccount_ExactMultipleOfPageSize(t *testing.T) {
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("p", 200)

	if _, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{FolderFilter: "Inbox"}); err != nil {
		t.Fatal(err)
	}
	// full page, then an empty one
	if got := len(fx.api.callsFor("f-inbox")); got != 2 {
		t.Errorf("page requests = %d, want 2", got)
	}
}

func TestSyncAccount_LimitCapsTotal(t *testing.T) {
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("i", 30)
	fx.api.messages["f-sent"] = genMessages("s", 30)

	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 5 {
		t.Errorf("created = %d, want 5", res.Created)
	}
	calls := fx.api.callsFor("f-inbox")
	if len(calls) != 1 || calls[0].limit != 5 {
		t.Errorf("inbox calls = %+v, want a single request with limit 5", calls)
	}
	if len(fx.api.callsFor("f-sent")) != 0 {
		t.Error("sent folder listed after cap was reached")
	}
}

func TestSyncAccount_DateWindow(t *testing.T) {
	fx := newFixture(t)
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	fx.api.messages["f-inbox"] = []domain.MessageDTO{
		msg("old", "", false, at.AddDate(0, 0, -30)),
		msg("in", "", false, at),
		msg("new", "", false, at.AddDate(0, 0, 30)),
	}
	start, end := at.AddDate(0, 0, -1), at.AddDate(0, 0, 1)

	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{StartDate: &start, EndDate: &end})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 1 || res.Created != 1 {
		t.Errorf("counts = %+v, want one message", res.SyncCounts)
	}
	if _, err := fx.emails.GetByProviderMessageID(context.Background(), "old"); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("message outside window stored: %v", err)
	}
}

func TestSyncAccount_NeverShortensBodies(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fx.api.messages["f-inbox"] = []domain.MessageDTO{msg("m1", "", false, at)}
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	short := msg("m1", "", true, at)
	short.BodyHTML = "<p>short</p>"
	fx.api.messages["f-inbox"] = []domain.MessageDTO{short}
	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 {
		t.Errorf("updated = %d, want 1 (read flag)", res.Updated)
	}
	e := fx.email(t, "m1")
	if e.BodyHTML != longHTML {
		t.Error("stored body was shortened")
	}
	if !e.IsRead {
		t.Error("read flag not updated")
	}

	longer := msg("m1", "", true, at)
	longer.BodyHTML = longHTML + "<p>signature</p>"
	fx.api.messages["f-inbox"] = []domain.MessageDTO{longer}
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := fx.email(t, "m1").BodyHTML; got != longer.BodyHTML {
		t.Error("longer listing body did not replace stored body")
	}
}

func TestSyncAccount_FetchesDetailForTruncatedBodies(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	truncated := msg("m1", "", false, at)
	truncated.BodyHTML = ""
	truncated.BodyText = "Hello, please see the attached..."

	t.Run("detail is longer", func(t *testing.T) {
		fx := newFixture(t)
		fx.api.messages["f-inbox"] = []domain.MessageDTO{truncated}
		fx.api.details["m1"] = &domain.MessageDTO{MessageID: "m1", BodyHTML: longHTML}

		if _, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{}); err != nil {
			t.Fatal(err)
		}
		if fx.api.detailCalls != 1 {
			t.Errorf("detail calls = %d, want 1", fx.api.detailCalls)
		}
		if got := fx.email(t, "m1").BodyHTML; got != longHTML {
			t.Errorf("body = %q, want detail body", got)
		}
	})

	t.Run("detail failure keeps listing body", func(t *testing.T) {
		fx := newFixture(t)
		fx.api.messages["f-inbox"] = []domain.MessageDTO{truncated}

		res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != domain.SyncStatusSuccess || res.Created != 1 {
			t.Errorf("result = %+v", res)
		}
		if got := fx.email(t, "m1").BodyText; got != truncated.BodyText {
			t.Errorf("body = %q", got)
		}
	})

	t.Run("degraded feature skips detail", func(t *testing.T) {
		fx := newFixture(t)
		fx.api.messages["f-inbox"] = []domain.MessageDTO{truncated}
		fx.api.details["m1"] = &domain.MessageDTO{MessageID: "m1", BodyHTML: longHTML}
		if err := fx.degrader.Disable(context.Background(), resilience.FeatureMessageDetail); err != nil {
			t.Fatal(err)
		}

		if _, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{}); err != nil {
			t.Fatal(err)
		}
		if fx.api.detailCalls != 0 {
			t.Errorf("detail calls = %d, want 0", fx.api.detailCalls)
		}
	})
}

func TestSyncAccount_FolderCountsFollowRows(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fx.api.folders[0].TotalCount = 999 // provider counts are ignored
	fx.api.messages["f-inbox"] = []domain.MessageDTO{
		msg("m1", "", false, at),
		msg("m2", "", false, at),
		msg("m3", "", true, at),
	}
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	inbox := fx.folder(t, "f-inbox")
	if inbox.TotalCount != 3 || inbox.UnreadCount != 2 {
		t.Fatalf("inbox counts = %d/%d, want 3/2", inbox.TotalCount, inbox.UnreadCount)
	}

	// m1 moved to sent on the provider
	fx.api.messages["f-inbox"] = []domain.MessageDTO{msg("m2", "", false, at), msg("m3", "", true, at)}
	fx.api.messages["f-sent"] = []domain.MessageDTO{msg("m1", "", false, at)}
	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{FolderFilter: "f-sent"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 {
		t.Errorf("updated = %d, want 1", res.Updated)
	}
	inbox, sent := fx.folder(t, "f-inbox"), fx.folder(t, "f-sent")
	if inbox.TotalCount != 2 || inbox.UnreadCount != 1 {
		t.Errorf("inbox counts = %d/%d, want 2/1", inbox.TotalCount, inbox.UnreadCount)
	}
	if sent.TotalCount != 1 || sent.UnreadCount != 1 {
		t.Errorf("sent counts = %d/%d, want 1/1", sent.TotalCount, sent.UnreadCount)
	}
}

func TestSyncAccount_ReauthAbortsRun(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("m", 3)
	fx.api.foldersErr = &out.MailError{Kind: out.KindReauthRequired, Op: "refresh_token", Code: "invalid_code"}

	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if !errors.Is(err, out.ErrReauthorizationRequired) {
		t.Fatalf("err = %v, want ReauthorizationRequired", err)
	}
	if res == nil || res.Status != domain.SyncStatusReauthRequired || res.Fetched != 0 {
		t.Fatalf("result = %+v", res)
	}

	logs, err := fx.svc.ListSyncLogs(ctx, fx.acc.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs = %v, %v", logs, err)
	}
	if logs[0].Status != domain.SyncStatusReauthRequired || logs[0].FinishedAt == nil {
		t.Errorf("log = %+v", logs[0])
	}
	acc, _ := fx.accounts.GetByID(ctx, fx.acc.ID)
	if acc.LastSyncAt != nil {
		t.Error("LastSyncAt stamped on reauth failure")
	}
}

func TestSyncAccount_FolderFailureIsIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("m", 3)
	fx.api.listErr["f-sent"] = out.NewMailError(out.KindTransient, "list_messages", 503, "unavailable", nil)

	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Status != domain.SyncStatusPartial || res.Created != 3 {
		t.Fatalf("result = %+v", res)
	}
	var sent *domain.FolderSyncResult
	for i := range res.Folders {
		if res.Folders[i].ProviderFolderID == "f-sent" {
			sent = &res.Folders[i]
		}
	}
	if sent == nil || sent.Error == "" {
		t.Errorf("sent folder result = %+v, want error recorded", sent)
	}
}

func TestSyncAccount_FolderListingFailure(t *testing.T) {
	fx := newFixture(t)
	fx.api.foldersErr = out.NewMailError(out.KindTransient, "list_folders", 502, "bad gateway", nil)

	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{})
	if !errors.Is(err, out.ErrTransientNetwork) {
		t.Fatalf("err = %v", err)
	}
	if res.Status != domain.SyncStatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
}

func TestSyncAccount_UnknownFolderFilter(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.svc.SyncAccount(context.Background(), fx.acc.ID, domain.SyncOptions{FolderFilter: "nope"})
	if !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("err = %v, want ErrFolderNotFound", err)
	}
	if res.Status != domain.SyncStatusFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestSyncAccount_CancellationKeepsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("m", 237)
	fx.api.onList = func(call int) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}

	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{FolderFilter: "f-inbox"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Status != domain.SyncStatusCancelled || res.Created != 200 {
		t.Fatalf("result = %+v", res)
	}

	bg := context.Background()
	log, err := fx.logs.GetByID(bg, res.LogID)
	if err != nil {
		t.Fatal(err)
	}
	if log.Status != domain.SyncStatusCancelled || log.Created != 200 {
		t.Errorf("log = %+v", log)
	}
	if inbox := fx.folder(t, "f-inbox"); inbox.TotalCount != 200 {
		t.Errorf("inbox total = %d, want 200", inbox.TotalCount)
	}
}

func TestSyncAccount_LeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	lease, err := fx.locker.TryAcquire(ctx, fx.acc.ID, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); err != nil {
		t.Fatalf("sync after release: %v", err)
	}
	// released by the run itself
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); err != nil {
		t.Fatalf("second sync: %v", err)
	}
}

func TestSyncAccount_EmailSyncDegraded(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.api.messages["f-inbox"] = genMessages("m", 3)
	if err := fx.degrader.Disable(ctx, resilience.FeatureEmailSync); err != nil {
		t.Fatal(err)
	}

	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.SyncStatusPartial || res.Fetched != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(fx.api.listCalls) != 0 {
		t.Errorf("list calls = %d, want 0", len(fx.api.listCalls))
	}
	fx.folder(t, "f-inbox")
}

func TestSyncAccount_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.acc.SyncEnabled = false
	if err := fx.accounts.Update(ctx, fx.acc); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestSyncAccount_StampsLastSync(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return now }

	res, err := fx.svc.SyncAccount(ctx, fx.acc.ID, domain.SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	acc, err := fx.accounts.GetByID(ctx, fx.acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if acc.LastSyncAt == nil || !acc.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt = %v, want %v", acc.LastSyncAt, now)
	}
	if _, err := fx.logs.GetByID(ctx, res.LogID); err != nil {
		t.Errorf("log %s: %v", res.LogID, err)
	}
}

func TestCompletenessPolicy_NeedsDetail(t *testing.T) {
	p := DefaultCompletenessPolicy()
	long := strings.Repeat("word ", 300)

	tests := []struct {
		name string
		m    domain.MessageDTO
		want bool
	}{
		{"short body", domain.MessageDTO{BodyHTML: "<p>hi</p>"}, true},
		{"complete html", domain.MessageDTO{BodyHTML: "<div>" + long + "</div>"}, false},
		{"ascii ellipsis", domain.MessageDTO{BodyText: long + "...", BodyHTML: "<div>" + long + "</div>"}, true},
		{"unicode ellipsis", domain.MessageDTO{BodyText: long + "…  ", BodyHTML: "<div>" + long + "</div>"}, true},
		{"read more marker", domain.MessageDTO{BodyHTML: "<div>" + long + "<a>Read More</a></div>"}, true},
		{"html without markup", domain.MessageDTO{BodyText: long, BodyHTML: long}, true},
		{"no html at all", domain.MessageDTO{BodyText: long}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.NeedsDetail(&tt.m); got != tt.want {
				t.Errorf("NeedsDetail = %v, want %v", got, tt.want)
			}
		})
	}
}
