package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"mail_worker/adapter/out/persistence"
	"mail_worker/core/domain"
	"mail_worker/core/port/out"
	"mail_worker/infra/database"
	"mail_worker/pkg/resilience"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "hello"},
		{"Re: Re: Hello", "hello"},
		{"RE: FW: Fwd:  Hello   World ", "hello world"},
		{"AW: WG: Angebot", "angebot"},
		{"Re[2]: status", "status"},
		{"Re(3): status", "status"},
		{"SV: VS: Tilbud", "tilbud"},
		{"Réf : facture", "facture"},
		{"回复：会议", "会议"},
		{"Ответ: Заказ", "заказ"},
		{"[EXTERNAL] Re: [#123] Order #5", "order #5"},
		{"Review: draft", "review: draft"},
		{"Re:", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeSubject(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := NormalizeSubject(got); again != got {
				t.Errorf("not idempotent: %q -> %q", got, again)
			}
		})
	}
	if NormalizeSubject("Re: Re: Hello") != NormalizeSubject("Hello") {
		t.Error("reply chain does not normalize to the base subject")
	}
}

// =============================================================================
// Fixture
// =============================================================================

type fakeGenerator struct {
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, prompt string, _ out.GenerateOptions) (*out.GenerateResult, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return &out.GenerateResult{Text: g.text, Model: "fake", Provider: "test"}, nil
}

type fixture struct {
	svc      *Service
	tickets  *persistence.TicketAdapter
	emails   *persistence.EmailAdapter
	ai       *fakeGenerator
	degrader *resilience.Degrader
	acc      *domain.Account
	folder   *domain.Folder
	db       *sqlx.DB
	seq      int
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

	acc := &domain.Account{UserID: uuid.New(), Email: "me@example.com", IsActive: true, SyncEnabled: true}
	if err := persistence.NewAccountAdapter(db, nil).Upsert(ctx, acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	folder := &domain.Folder{AccountID: acc.ID, ProviderFolderID: "inbox", Name: "Inbox", Type: domain.FolderTypeInbox}
	if err := persistence.NewFolderAdapter(db).Upsert(ctx, folder); err != nil {
		t.Fatalf("seed folder: %v", err)
	}

	fx := &fixture{
		tickets:  persistence.NewTicketAdapter(db),
		emails:   persistence.NewEmailAdapter(db),
		ai:       &fakeGenerator{text: "Customer asks about order #5."},
		degrader: resilience.NewDegrader(resilience.NewMemoryFlagStore(time.Minute), resilience.DegraderConfig{}),
		acc:      acc,
		folder:   folder,
		db:       db,
	}
	fx.svc = NewService(fx.tickets, fx.emails, fx.ai, fx.degrader, domain.GroupBySenderSubject)
	return fx
}

func (fx *fixture) addEmail(t *testing.T, from, subject string, open bool) *domain.Email {
	t.Helper()
	fx.seq++
	e := &domain.Email{
		AccountID:         fx.acc.ID,
		FolderID:          fx.folder.ID,
		ProviderMessageID: fmt.Sprintf("msg-%d", fx.seq),
		FromEmail:         from,
		FromName:          "Alice",
		Subject:           subject,
		BodyText:          "body of " + subject,
		IsOpen:            open,
		ReceivedAt:        time.Date(2026, 3, 1, 10, fx.seq, 0, 0, time.UTC),
	}
	if err := fx.emails.Create(context.Background(), e); err != nil {
		t.Fatalf("create email: %v", err)
	}
	return e
}

func (fx *fixture) archive(t *testing.T) *domain.Folder {
	t.Helper()
	f := &domain.Folder{AccountID: fx.acc.ID, ProviderFolderID: "archive", Name: "Archive", Type: domain.FolderTypeArchive}
	if err := persistence.NewFolderAdapter(fx.db).Upsert(context.Background(), f); err != nil {
		t.Fatalf("seed archive folder: %v", err)
	}
	return f
}

func (fx *fixture) reload(t *testing.T, id int64) *domain.Email {
	t.Helper()
	e, err := fx.emails.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload email %d: %v", id, err)
	}
	return e
}

func (fx *fixture) ticket(t *testing.T, id int64) *domain.Ticket {
	t.Helper()
	tk, err := fx.tickets.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("ticket %d: %v", id, err)
	}
	return tk
}

func (fx *fixture) open(t *testing.T, e *domain.Email, mode domain.GroupingMode) *domain.TicketRef {
	t.Helper()
	ref, err := fx.svc.ToggleEmailOpen(context.Background(), e.ID, mode)
	if err != nil {
		t.Fatalf("toggle open %d: %v", e.ID, err)
	}
	if ref == nil {
		t.Fatalf("toggle open %d returned no ticket", e.ID)
	}
	return ref
}

// =============================================================================
// Tests
// =============================================================================

func TestToggleEmailOpen_ReplyJoinsTicket(t *testing.T) {
	fx := newFixture(t)
	first := fx.addEmail(t, "a@x.com", "Order #5", false)
	reply := fx.addEmail(t, "A@X.com", "Re: Order #5", false)

	r1 := fx.open(t, first, domain.GroupBySenderSubject)
	r2 := fx.open(t, reply, domain.GroupBySenderSubject)
	if r1.ID != r2.ID {
		t.Fatalf("tickets %d and %d, want one", r1.ID, r2.ID)
	}
	if r2.EmailCount != 2 || r2.Status != domain.TicketOpen {
		t.Errorf("ref = %+v, want open with 2 emails", r2)
	}

	tk := fx.ticket(t, r1.ID)
	if tk.NormalizedSubject != "order #5" || tk.SenderEmail != "a@x.com" || tk.SubjectPrefix != "Order #5" {
		t.Errorf("ticket = %+v", tk)
	}
	if tk.LastEmailAt == nil || !tk.LastEmailAt.Equal(reply.ReceivedAt) {
		t.Errorf("LastEmailAt = %v, want %v", tk.LastEmailAt, reply.ReceivedAt)
	}
}

func TestCreateOrUpdateForEmail_Modes(t *testing.T) {
	tests := []struct {
		name        string
		mode        domain.GroupingMode
		wantTickets int
	}{
		{"sender groups all subjects", domain.GroupBySender, 1},
		{"sender_subject splits subjects", domain.GroupBySenderSubject, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fx := newFixture(t)
			fx.open(t, fx.addEmail(t, "a@x.com", "Invoice", false), tt.mode)
			fx.open(t, fx.addEmail(t, "a@x.com", "Shipping", false), tt.mode)
			fx.open(t, fx.addEmail(t, "b@x.com", "Invoice", false), tt.mode)

			open, err := fx.svc.ListOpenTickets(ctx, fx.acc.ID)
			if err != nil {
				t.Fatal(err)
			}
			fromA := 0
			for _, tk := range open {
				if tk.SenderEmail == "a@x.com" {
					fromA++
				}
				if tk.GroupingMode != tt.mode {
					t.Errorf("ticket %d mode = %s", tk.ID, tk.GroupingMode)
				}
			}
			if fromA != tt.wantTickets {
				t.Errorf("tickets for a@x.com = %d, want %d", fromA, tt.wantTickets)
			}
		})
	}
}

func TestCreateOrUpdateForEmail_EmptySubjectsMatch(t *testing.T) {
	fx := newFixture(t)
	r1 := fx.open(t, fx.addEmail(t, "a@x.com", "", false), domain.GroupBySenderSubject)
	r2 := fx.open(t, fx.addEmail(t, "a@x.com", "Re:", false), domain.GroupBySenderSubject)
	if r1.ID != r2.ID {
		t.Errorf("empty subjects landed in tickets %d and %d", r1.ID, r2.ID)
	}
}

func TestToggleEmailOpen_AutoGroupsRelated(t *testing.T) {
	fx := newFixture(t)
	// opened before grouping existed
	stray1 := fx.addEmail(t, "a@x.com", "Order #5", true)
	stray2 := fx.addEmail(t, "a@x.com", "Fwd: order #5", true)
	other := fx.addEmail(t, "a@x.com", "Unrelated", true)
	trigger := fx.addEmail(t, "a@x.com", "RE: Order #5", false)

	ref := fx.open(t, trigger, domain.GroupBySenderSubject)
	if ref.EmailCount != 3 {
		t.Errorf("email count = %d, want 3", ref.EmailCount)
	}
	for _, e := range []*domain.Email{stray1, stray2} {
		got := fx.reload(t, e.ID)
		if got.TicketID == nil || *got.TicketID != ref.ID {
			t.Errorf("email %q not attached to ticket %d", e.Subject, ref.ID)
		}
	}
	if got := fx.reload(t, other.ID); got.TicketID != nil {
		t.Errorf("unrelated email attached to ticket %d", *got.TicketID)
	}
}

func TestToggleEmailOpen_CloseAutoClosesAndReopens(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	e1 := fx.addEmail(t, "a@x.com", "Order #5", false)
	e2 := fx.addEmail(t, "a@x.com", "Re: Order #5", false)
	ref := fx.open(t, e1, "")
	fx.open(t, e2, "")

	if got, err := fx.svc.ToggleEmailOpen(ctx, e1.ID, ""); err != nil || got != nil {
		t.Fatalf("close e1 = %v, %v; want nil ref", got, err)
	}
	if tk := fx.ticket(t, ref.ID); !tk.IsOpen() || tk.EmailCount != 2 {
		t.Errorf("after closing one email ticket = %s/%d, want open/2", tk.Status, tk.EmailCount)
	}

	if _, err := fx.svc.ToggleEmailOpen(ctx, e2.ID, ""); err != nil {
		t.Fatal(err)
	}
	tk := fx.ticket(t, ref.ID)
	if tk.IsOpen() || tk.ClosedAt == nil {
		t.Fatalf("ticket = %s closed_at=%v, want auto-closed", tk.Status, tk.ClosedAt)
	}
	if got := fx.reload(t, e2.ID); got.TicketID == nil || *got.TicketID != ref.ID {
		t.Error("closed email was detached from its ticket")
	}

	again := fx.open(t, e2, "")
	if again.ID != ref.ID || again.Status != domain.TicketOpen {
		t.Errorf("reopen via toggle = %+v, want ticket %d reopened", again, ref.ID)
	}
	if tk := fx.ticket(t, ref.ID); tk.ClosedAt != nil {
		t.Error("ClosedAt not cleared on reopen")
	}
	if got := fx.reload(t, e2.ID); !got.IsOpen {
		t.Fatal("reopened email not stored open")
	}

	if got, err := fx.svc.ToggleEmailOpen(ctx, e2.ID, ""); err != nil || got != nil {
		t.Fatalf("second close of e2 = %v, %v; want nil ref", got, err)
	}
	if tk := fx.ticket(t, ref.ID); tk.IsOpen() {
		t.Errorf("ticket = %s after closing its last open email, want closed", tk.Status)
	}
}

func TestToggleEmailOpen_KeepsSyncWrites(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	e := fx.addEmail(t, "a@x.com", "Order #5", false)
	synced := fx.reload(t, e.ID)
	ref := fx.open(t, e, "")

	// a sync that loaded the row before the toggle writes its fields back
	synced.IsRead = true
	if err := fx.emails.UpdateSyncFields(ctx, synced); err != nil {
		t.Fatal(err)
	}
	got := fx.reload(t, e.ID)
	if !got.IsOpen || got.TicketID == nil || *got.TicketID != ref.ID {
		t.Errorf("ticket state lost: open=%v ticket=%v", got.IsOpen, got.TicketID)
	}
	if !got.IsRead {
		t.Error("sync flag not written")
	}

	// grouping a snapshot taken before a sync moved the email keeps the move
	stale := fx.reload(t, e.ID)
	moved := fx.reload(t, e.ID)
	moved.FolderID = fx.archive(t).ID
	if err := fx.emails.UpdateSyncFields(ctx, moved); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.CreateOrUpdateForEmail(ctx, stale, "", false); err != nil {
		t.Fatal(err)
	}
	if got := fx.reload(t, e.ID); got.FolderID != moved.FolderID {
		t.Errorf("folder = %d, want %d", got.FolderID, moved.FolderID)
	}
}

func TestCloseAndReopenTicket(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	emails := []*domain.Email{
		fx.addEmail(t, "a@x.com", "Order #5", false),
		fx.addEmail(t, "a@x.com", "Re: Order #5", false),
		fx.addEmail(t, "a@x.com", "Re: Re: Order #5", false),
	}
	var ref *domain.TicketRef
	for _, e := range emails {
		ref = fx.open(t, e, domain.GroupBySenderSubject)
	}

	closed, err := fx.svc.CloseTicket(ctx, ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != domain.TicketClosed || closed.ClosedAt == nil {
		t.Errorf("closed = %+v", closed)
	}
	members, _ := fx.emails.ListByTicket(ctx, ref.ID)
	for _, m := range members {
		if m.IsOpen {
			t.Errorf("email %d still open after close", m.ID)
		}
	}
	if open, _ := fx.svc.ListOpenTickets(ctx, fx.acc.ID); len(open) != 0 {
		t.Errorf("open tickets = %d, want 0", len(open))
	}

	reopened, err := fx.svc.ReopenTicket(ctx, ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.IsOpen() || reopened.ClosedAt != nil || reopened.EmailCount != 3 {
		t.Errorf("reopened = %+v", reopened)
	}
	members, _ = fx.emails.ListByTicket(ctx, ref.ID)
	for _, m := range members {
		if !m.IsOpen {
			t.Errorf("email %d still closed after reopen", m.ID)
		}
	}
}

func TestReopenTicket_Conflict(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	ref := fx.open(t, fx.addEmail(t, "a@x.com", "Order #5", false), "")
	if _, err := fx.svc.CloseTicket(ctx, ref.ID); err != nil {
		t.Fatal(err)
	}
	other := &domain.Ticket{
		AccountID:         fx.acc.ID,
		SenderEmail:       "a@x.com",
		NormalizedSubject: "order #5",
		GroupingMode:      domain.GroupBySenderSubject,
		Status:            domain.TicketOpen,
	}
	if err := fx.tickets.Create(ctx, other); err != nil {
		t.Fatal(err)
	}

	if _, err := fx.svc.ReopenTicket(ctx, ref.ID); !errors.Is(err, ErrTicketConflict) {
		t.Fatalf("err = %v, want ErrTicketConflict", err)
	}
}

func TestEnsureConsistency_ReopensClosedTicketWithOpenMember(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	e := fx.addEmail(t, "a@x.com", "Order #5", false)
	ref := fx.open(t, e, "")
	if _, err := fx.svc.CloseTicket(ctx, ref.ID); err != nil {
		t.Fatal(err)
	}

	// an email reopened behind the service's back
	stale := fx.reload(t, e.ID)
	stale.IsOpen = true
	if err := fx.emails.Update(ctx, stale); err != nil {
		t.Fatal(err)
	}

	tk, err := fx.svc.EnsureConsistency(ctx, ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !tk.IsOpen() || tk.ClosedAt != nil {
		t.Errorf("ticket = %+v, want reopened", tk)
	}
}

func TestCreateOrUpdateForEmail_ModeChangeMovesEmail(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	e := fx.addEmail(t, "a@x.com", "Invoice", false)
	old := fx.open(t, e, domain.GroupBySenderSubject)

	moved, err := fx.svc.CreateOrUpdateForEmail(ctx, fx.reload(t, e.ID), domain.GroupBySender, false)
	if err != nil {
		t.Fatal(err)
	}
	if moved.ID == old.ID || moved.GroupingMode != domain.GroupBySender {
		t.Fatalf("moved = %+v", moved)
	}
	prev := fx.ticket(t, old.ID)
	if prev.EmailCount != 0 || prev.IsOpen() {
		t.Errorf("previous ticket = %s/%d, want closed and empty", prev.Status, prev.EmailCount)
	}
}

func TestSummarizeTicket(t *testing.T) {
	ctx := context.Background()

	t.Run("stores summary", func(t *testing.T) {
		fx := newFixture(t)
		ref := fx.open(t, fx.addEmail(t, "a@x.com", "Order #5", false), "")
		tk, err := fx.svc.SummarizeTicket(ctx, ref.ID)
		if err != nil {
			t.Fatal(err)
		}
		if tk.Summary != fx.ai.text || fx.ticket(t, ref.ID).Summary != fx.ai.text {
			t.Errorf("summary = %q", tk.Summary)
		}
		if len(fx.ai.prompts) != 1 || !strings.Contains(fx.ai.prompts[0], "Subject: Order #5") {
			t.Errorf("prompts = %q", fx.ai.prompts)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		fx := newFixture(t)
		ref := fx.open(t, fx.addEmail(t, "a@x.com", "Order #5", false), "")
		if err := fx.degrader.Disable(ctx, resilience.FeatureTicketSummary); err != nil {
			t.Fatal(err)
		}
		var disabled *resilience.FeatureDisabledError
		if _, err := fx.svc.SummarizeTicket(ctx, ref.ID); !errors.As(err, &disabled) {
			t.Fatalf("err = %v, want FeatureDisabledError", err)
		}
		if len(fx.ai.prompts) != 0 {
			t.Error("generator called while disabled")
		}
	})

	t.Run("not configured", func(t *testing.T) {
		fx := newFixture(t)
		svc := NewService(fx.tickets, fx.emails, nil, nil, "")
		if _, err := svc.SummarizeTicket(ctx, 1); !errors.Is(err, ErrSummaryUnavailable) {
			t.Fatalf("err = %v", err)
		}
	})
}
