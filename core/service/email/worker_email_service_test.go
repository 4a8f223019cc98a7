package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"mail_worker/adapter/out/persistence"
	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/infra/database"
	"mail_worker/pkg/resilience"

	"github.com/google/uuid"
)

type fakeSender struct {
	sent        []*domain.SendRequest
	uploads     []string
	downloadErr error
	downloads   int
}

func (f *fakeSender) SendMessage(_ context.Context, _ *domain.Account, req *domain.SendRequest) (*domain.SentMessage, error) {
	f.sent = append(f.sent, req)
	return &domain.SentMessage{MessageID: "sent-1"}, nil
}

func (f *fakeSender) UploadAttachment(_ context.Context, _ *domain.Account, name string, r io.Reader) (*domain.UploadedAttachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, name+":"+string(data))
	return &domain.UploadedAttachment{StoreName: "store", Name: name, Path: "/tmp/" + name}, nil
}

func (f *fakeSender) ListAttachments(_ context.Context, _ *domain.Account, folderID, messageID string) ([]domain.AttachmentDTO, error) {
	return []domain.AttachmentDTO{{AttachmentID: "a1", Name: folderID + "/" + messageID}}, nil
}

func (f *fakeSender) DownloadAttachment(_ context.Context, _ *domain.Account, _, _, attachmentID string) ([]byte, error) {
	f.downloads++
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("content of " + attachmentID), nil
}

type fakeSettler struct {
	settled []int64
}

func (f *fakeSettler) SettleTicket(_ context.Context, ticketID int64) (*domain.Ticket, error) {
	f.settled = append(f.settled, ticketID)
	return &domain.Ticket{ID: ticketID}, nil
}

type fixture struct {
	svc      *Service
	api      *fakeSender
	settler  *fakeSettler
	accounts *persistence.AccountAdapter
	folders  *persistence.FolderAdapter
	emails   *persistence.EmailAdapter
	threads  *persistence.ThreadAdapter
	degrader *resilience.Degrader
	acc      *domain.Account
	folder   *domain.Folder
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
		api:      &fakeSender{},
		settler:  &fakeSettler{},
		accounts: persistence.NewAccountAdapter(db, nil),
		folders:  persistence.NewFolderAdapter(db),
		emails:   persistence.NewEmailAdapter(db),
		threads:  persistence.NewThreadAdapter(db),
		degrader: resilience.NewDegrader(resilience.NewMemoryFlagStore(time.Minute), resilience.DegraderConfig{FailureThreshold: 2}),
	}
	fx.acc = &domain.Account{UserID: uuid.New(), Email: "me@example.com", AccessToken: "at", RefreshToken: "rt", IsActive: true, SyncEnabled: true}
	if err := fx.accounts.Upsert(ctx, fx.acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := fx.accounts.SetDefault(ctx, fx.acc.UserID, fx.acc.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	fx.folder = &domain.Folder{AccountID: fx.acc.ID, ProviderFolderID: "f-inbox", Name: "Inbox", Type: domain.FolderTypeInbox}
	if err := fx.folders.Upsert(ctx, fx.folder); err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	fx.svc = NewService(fx.accounts, fx.folders, fx.emails, fx.threads, fx.api, fx.degrader, fx.settler)
	return fx
}

func (fx *fixture) addEmail(t *testing.T, providerID string, threadID, ticketID *int64) *domain.Email {
	t.Helper()
	e := &domain.Email{
		AccountID:         fx.acc.ID,
		FolderID:          fx.folder.ID,
		ThreadID:          threadID,
		TicketID:          ticketID,
		ProviderMessageID: providerID,
		FromEmail:         "alice@example.com",
		Subject:           "Hello",
		HasAttachment:     true,
		ReceivedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := fx.emails.Create(context.Background(), e); err != nil {
		t.Fatalf("create email: %v", err)
	}
	return e
}

func TestService_SendMessage(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		userID    uuid.UUID
		accountID int64
		to        []string
		wantErr   error
	}{
		{"default account", fx.acc.UserID, 0, []string{"bob@example.com"}, nil},
		{"explicit account", fx.acc.UserID, fx.acc.ID, []string{" bob@example.com "}, nil},
		{"no recipients", fx.acc.UserID, 0, []string{" ", ""}, ErrNoRecipients},
		{"foreign account", uuid.New(), fx.acc.ID, []string{"bob@example.com"}, out.ErrNotFound},
		{"no default", uuid.New(), 0, []string{"bob@example.com"}, ErrNoAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(fx.api.sent)
			req := &domain.SendRequest{To: tt.to, Subject: "Hi", Content: "<p>hi</p>", HTML: true}
			_, err := fx.svc.SendMessage(ctx, tt.userID, tt.accountID, req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SendMessage() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if len(fx.api.sent) != before {
					t.Error("provider called on a rejected send")
				}
				return
			}
			got := fx.api.sent[len(fx.api.sent)-1]
			if got.From != "me@example.com" {
				t.Errorf("From = %q, want account address", got.From)
			}
			if got.To[0] != "bob@example.com" {
				t.Errorf("To = %q, want trimmed address", got.To)
			}
		})
	}
}

func TestService_UploadAttachment(t *testing.T) {
	fx := newFixture(t)
	up, err := fx.svc.UploadAttachment(context.Background(), fx.acc.UserID, 0, "report.pdf", bytes.NewBufferString("pdf"))
	if err != nil {
		t.Fatalf("UploadAttachment() error = %v", err)
	}
	if up.Name != "report.pdf" || len(fx.api.uploads) != 1 || fx.api.uploads[0] != "report.pdf:pdf" {
		t.Errorf("upload = %+v, provider saw %v", up, fx.api.uploads)
	}
}

func TestService_Attachments(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e := fx.addEmail(t, "m-1", nil, nil)

	list, err := fx.svc.ListAttachments(ctx, fx.acc.UserID, e.ID)
	if err != nil {
		t.Fatalf("ListAttachments() error = %v", err)
	}
	if len(list) != 1 || list[0].Name != "f-inbox/m-1" {
		t.Errorf("ListAttachments() = %+v, want provider folder/message ids", list)
	}

	data, err := fx.svc.DownloadAttachment(ctx, fx.acc.UserID, e.ID, "a1")
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v", err)
	}
	if string(data) != "content of a1" {
		t.Errorf("data = %q", data)
	}

	if _, err := fx.svc.DownloadAttachment(ctx, uuid.New(), e.ID, "a1"); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("foreign user download error = %v, want ErrNotFound", err)
	}
}

func TestService_DownloadAttachment_Degrades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	e := fx.addEmail(t, "m-1", nil, nil)

	// client errors do not count
	fx.api.downloadErr = out.NewMailError(out.KindAPI, "download_attachment", 404, "missing", nil)
	for i := 0; i < 3; i++ {
		if _, err := fx.svc.DownloadAttachment(ctx, fx.acc.UserID, e.ID, "a1"); !errors.Is(err, out.ErrZohoAPI) {
			t.Fatalf("error = %v, want ErrZohoAPI", err)
		}
	}
	if !fx.degrader.Enabled(ctx, resilience.FeatureAttachmentDownload) {
		t.Fatal("API errors disabled the feature")
	}

	fx.api.downloadErr = out.NewMailError(out.KindTransient, "download_attachment", 503, "unavailable", nil)
	for i := 0; i < 2; i++ {
		_, _ = fx.svc.DownloadAttachment(ctx, fx.acc.UserID, e.ID, "a1")
	}
	calls := fx.api.downloads
	_, err := fx.svc.DownloadAttachment(ctx, fx.acc.UserID, e.ID, "a1")
	var disabled *resilience.FeatureDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("error = %v, want FeatureDisabledError", err)
	}
	if fx.api.downloads != calls {
		t.Error("provider called while the feature is disabled")
	}
	if !fx.degrader.Enabled(ctx, resilience.FeatureMessageDetail) {
		t.Error("disabling attachment_download affected message_detail")
	}
}

func TestService_DeleteEmail(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	thread, err := fx.threads.GetOrCreate(ctx, fx.acc.ID, "th-1", "Hello")
	if err != nil {
		t.Fatal(err)
	}
	keep := fx.addEmail(t, "m-1", &thread.ID, nil)
	gone := fx.addEmail(t, "m-2", &thread.ID, nil)
	if _, err := fx.folders.RecomputeCounts(ctx, fx.folder.ID); err != nil {
		t.Fatal(err)
	}

	if err := fx.svc.DeleteEmail(ctx, fx.acc.UserID, gone.ID); err != nil {
		t.Fatalf("DeleteEmail() error = %v", err)
	}
	if _, err := fx.emails.GetByID(ctx, gone.ID); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("deleted email lookup error = %v, want ErrNotFound", err)
	}

	folder, _ := fx.folders.GetByID(ctx, fx.folder.ID)
	if folder.TotalCount != 1 || folder.UnreadCount != 1 {
		t.Errorf("folder counts = %d/%d, want 1/1", folder.TotalCount, folder.UnreadCount)
	}
	th, _ := fx.threads.GetByID(ctx, thread.ID)
	if th.MessageCount != 1 {
		t.Errorf("thread MessageCount = %d, want 1", th.MessageCount)
	}
	if _, err := fx.emails.GetByID(ctx, keep.ID); err != nil {
		t.Errorf("sibling email lost: %v", err)
	}

	if err := fx.svc.DeleteEmail(ctx, uuid.New(), keep.ID); !errors.Is(err, out.ErrNotFound) {
		t.Errorf("foreign delete error = %v, want ErrNotFound", err)
	}
}
