// Package ticket groups open emails into tickets by sender and, optionally,
// normalized subject.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/core/port/out"
	"mail_worker/pkg/logger"
	"mail_worker/pkg/resilience"
)

var (
	ErrTicketConflict     = errors.New("an open ticket with the same key already exists")
	ErrSummaryUnavailable = errors.New("ticket summary is not configured")
)

// Service implements the ticket grouping operations.
type Service struct {
	tickets  out.TicketRepository
	emails   out.EmailRepository
	ai       out.TextGenerator
	degrader *resilience.Degrader

	defaultMode domain.GroupingMode
	now         func() time.Time
}

// NewService wires the repositories. ai and degrader may be nil.
func NewService(tickets out.TicketRepository, emails out.EmailRepository, ai out.TextGenerator, degrader *resilience.Degrader, defaultMode domain.GroupingMode) *Service {
	if defaultMode == "" {
		defaultMode = domain.GroupBySenderSubject
	}
	return &Service{
		tickets:     tickets,
		emails:      emails,
		ai:          ai,
		degrader:    degrader,
		defaultMode: defaultMode,
		now:         time.Now,
	}
}

// DefaultMode is used when callers pass an empty grouping mode.
func (s *Service) DefaultMode() domain.GroupingMode { return s.defaultMode }

// KeyFor builds the grouping key of e under mode.
func KeyFor(e *domain.Email, mode domain.GroupingMode) domain.TicketKey {
	key := domain.TicketKey{
		AccountID:   e.AccountID,
		SenderEmail: domain.NormalizeAddress(e.FromEmail),
		Mode:        mode,
	}
	if mode == domain.GroupBySenderSubject {
		key.NormalizedSubject = NormalizeSubject(e.Subject)
	}
	return key
}

func keyOf(t *domain.Ticket) domain.TicketKey {
	return domain.TicketKey{
		AccountID:         t.AccountID,
		SenderEmail:       domain.NormalizeAddress(t.SenderEmail),
		NormalizedSubject: t.NormalizedSubject,
		Mode:              t.GroupingMode,
	}
}

func (s *Service) GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}

// ListOpenTickets returns open tickets, most recent activity first.
func (s *Service) ListOpenTickets(ctx context.Context, accountID int64) ([]*domain.Ticket, error) {
	return s.tickets.ListOpen(ctx, accountID)
}

// =============================================================================
// Grouping
// =============================================================================

// CreateOrUpdateForEmail attaches the open email e to the open ticket of its
// key. A closed ticket with the same key is reopened before a new one is
// created. With autoGroupRelated, other open unattached emails of the sender
// that share the key are attached too.
func (s *Service) CreateOrUpdateForEmail(ctx context.Context, e *domain.Email, mode domain.GroupingMode, autoGroupRelated bool) (*domain.Ticket, error) {
	if mode == "" {
		mode = s.defaultMode
	}
	key := KeyFor(e, mode)

	var previous *domain.Ticket
	var t *domain.Ticket
	if e.TicketID != nil {
		cur, err := s.tickets.GetByID(ctx, *e.TicketID)
		switch {
		case err == nil && keyOf(cur) == key:
			t, err = s.ensureOpen(ctx, cur)
			if err != nil {
				return nil, err
			}
		case err == nil:
			previous = cur
		case !errors.Is(err, out.ErrNotFound):
			return nil, fmt.Errorf("load ticket %d: %w", *e.TicketID, err)
		}
	}

	if t == nil {
		var err error
		if t, err = s.findOrCreate(ctx, key, e); err != nil {
			return nil, err
		}
	}

	if err := s.attach(ctx, t, e); err != nil {
		return nil, err
	}

	if autoGroupRelated {
		related, err := s.emails.ListOpenUnassigned(ctx, e.AccountID, key.SenderEmail)
		if err != nil {
			return nil, fmt.Errorf("list related emails: %w", err)
		}
		for _, r := range related {
			if r.ID == e.ID || KeyFor(r, mode) != key {
				continue
			}
			if err := s.attach(ctx, t, r); err != nil {
				return nil, err
			}
		}
	}

	if err := s.refresh(ctx, t); err != nil {
		return nil, err
	}
	if previous != nil {
		if _, err := s.settle(ctx, previous); err != nil {
			logger.WithError(err).Warn("[TicketService.CreateOrUpdateForEmail] previous ticket %d not refreshed", previous.ID)
		}
	}
	return t, nil
}

// findOrCreate returns the open ticket for key, reopening a closed one or
// creating a new ticket seeded from e.
func (s *Service) findOrCreate(ctx context.Context, key domain.TicketKey, e *domain.Email) (*domain.Ticket, error) {
	t, err := s.tickets.FindByKey(ctx, key, domain.TicketOpen)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, out.ErrNotFound) {
		return nil, fmt.Errorf("find open ticket: %w", err)
	}

	closed, err := s.tickets.FindByKey(ctx, key, domain.TicketClosed)
	switch {
	case err == nil:
		return s.ensureOpen(ctx, closed)
	case !errors.Is(err, out.ErrNotFound):
		return nil, fmt.Errorf("find closed ticket: %w", err)
	}

	t = &domain.Ticket{
		AccountID:         key.AccountID,
		SenderEmail:       key.SenderEmail,
		SenderName:        e.FromName,
		SubjectPrefix:     subjectPrefix(e.Subject),
		NormalizedSubject: key.NormalizedSubject,
		Status:            domain.TicketOpen,
		GroupingMode:      key.Mode,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		if errors.Is(err, out.ErrDuplicate) {
			// created concurrently
			return s.tickets.FindByKey(ctx, key, domain.TicketOpen)
		}
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	logger.WithFields(map[string]any{
		"account_id": t.AccountID,
		"ticket_id":  t.ID,
		"mode":       string(t.GroupingMode),
	}).Debug("[TicketService.findOrCreate] ticket created for %s", t.SenderEmail)
	return t, nil
}

// ensureOpen reopens t's status. When another open ticket already holds the
// key, that ticket is returned instead.
func (s *Service) ensureOpen(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	if t.IsOpen() {
		return t, nil
	}
	t.Status = domain.TicketOpen
	t.ClosedAt = nil
	err := s.tickets.Update(ctx, t)
	if errors.Is(err, out.ErrDuplicate) {
		return s.tickets.FindByKey(ctx, keyOf(t), domain.TicketOpen)
	}
	if err != nil {
		return nil, fmt.Errorf("reopen ticket %d: %w", t.ID, err)
	}
	return t, nil
}

// attach always writes: e may be a snapshot whose flags were changed in
// memory only.
func (s *Service) attach(ctx context.Context, t *domain.Ticket, e *domain.Email) error {
	if err := s.emails.SetTicketState(ctx, e.ID, t.ID, true); err != nil {
		return fmt.Errorf("attach email %d to ticket %d: %w", e.ID, t.ID, err)
	}
	id := t.ID
	e.TicketID = &id
	e.IsOpen = true
	if t.SenderName == "" && e.FromName != "" {
		t.SenderName = e.FromName
	}
	return nil
}

// refresh recomputes count and timestamps from member rows.
func (s *Service) refresh(ctx context.Context, t *domain.Ticket) error {
	members, err := s.emails.ListByTicket(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list ticket %d emails: %w", t.ID, err)
	}
	t.Recompute(members)
	if err := s.tickets.Update(ctx, t); err != nil {
		return fmt.Errorf("update ticket %d: %w", t.ID, err)
	}
	return nil
}

// settle recomputes t and closes it when no member is open any more.
func (s *Service) settle(ctx context.Context, t *domain.Ticket) (*domain.Ticket, error) {
	members, err := s.emails.ListByTicket(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list ticket %d emails: %w", t.ID, err)
	}
	t.Recompute(members)
	if t.IsOpen() && !anyOpen(members) {
		now := s.now().UTC()
		t.Status = domain.TicketClosed
		t.ClosedAt = &now
	}
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("update ticket %d: %w", t.ID, err)
	}
	return t, nil
}

// SettleTicket recomputes a ticket after a member left it, e.g. because
// the email was deleted.
func (s *Service) SettleTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, t)
}

func anyOpen(members []*domain.Email) bool {
	for _, m := range members {
		if m.IsOpen {
			return true
		}
	}
	return false
}

// =============================================================================
// Toggle / Close / Reopen
// =============================================================================

// ToggleEmailOpen flips the email's open flag. Opening groups the email and
// returns its ticket; closing keeps the email attached, auto-closes a ticket
// left without open members and returns nil.
func (s *Service) ToggleEmailOpen(ctx context.Context, emailID int64, mode domain.GroupingMode) (*domain.TicketRef, error) {
	e, err := s.emails.GetByID(ctx, emailID)
	if err != nil {
		return nil, err
	}

	if !e.IsOpen {
		e.IsOpen = true
		t, err := s.CreateOrUpdateForEmail(ctx, e, mode, true)
		if err != nil {
			return nil, err
		}
		if t, err = s.EnsureConsistency(ctx, t.ID); err != nil {
			return nil, err
		}
		return t.Ref(), nil
	}

	e.IsOpen = false
	if err := s.emails.SetOpen(ctx, e.ID, false); err != nil {
		return nil, fmt.Errorf("close email %d: %w", e.ID, err)
	}
	if e.TicketID == nil {
		return nil, nil
	}
	t, err := s.tickets.GetByID(ctx, *e.TicketID)
	if err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := s.settle(ctx, t); err != nil {
		return nil, err
	}
	return nil, nil
}

// CloseTicket closes t and every member email.
func (s *Service) CloseTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.emails.SetOpenByTicket(ctx, t.ID, false); err != nil {
		return nil, fmt.Errorf("close ticket %d emails: %w", t.ID, err)
	}
	if t.IsOpen() {
		now := s.now().UTC()
		t.Status = domain.TicketClosed
		t.ClosedAt = &now
	}
	if err := s.refresh(ctx, t); err != nil {
		return nil, err
	}
	logger.Info("[TicketService.CloseTicket] ticket %d closed (%d emails)", t.ID, t.EmailCount)
	return t, nil
}

// ReopenTicket reopens t and every member email. It fails with
// ErrTicketConflict when another open ticket already holds the key.
func (s *Service) ReopenTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !t.IsOpen() {
		t.Status = domain.TicketOpen
		t.ClosedAt = nil
		if err := s.tickets.Update(ctx, t); err != nil {
			if errors.Is(err, out.ErrDuplicate) {
				return nil, ErrTicketConflict
			}
			return nil, fmt.Errorf("reopen ticket %d: %w", t.ID, err)
		}
	}
	if err := s.emails.SetOpenByTicket(ctx, t.ID, true); err != nil {
		return nil, fmt.Errorf("reopen ticket %d emails: %w", t.ID, err)
	}
	if err := s.refresh(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// EnsureConsistency repairs a closed ticket that still has open members by
// reopening it. If the key is taken by another open ticket, the open members
// move there and that ticket is returned.
func (s *Service) EnsureConsistency(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	members, err := s.emails.ListByTicket(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if t.IsOpen() || !anyOpen(members) {
		return t, nil
	}

	logger.Warn("[TicketService.EnsureConsistency] closed ticket %d has open emails, reopening", t.ID)
	target, err := s.ensureOpen(ctx, t)
	if err != nil {
		return nil, err
	}
	if target.ID != t.ID {
		for _, m := range members {
			if m.IsOpen {
				if err := s.attach(ctx, target, m); err != nil {
					return nil, err
				}
			}
		}
		if _, err := s.settle(ctx, t); err != nil {
			return nil, err
		}
	}
	if err := s.refresh(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// =============================================================================
// Summary
// =============================================================================

const (
	summarySystemPrompt = "You summarize customer email conversations for a support agent. " +
		"Reply with at most three short sentences: what the sender wants and what is still open."
	summaryBodyLimit = 1500
	summaryMaxEmails = 10
)

// SummarizeTicket asks the configured text generator for a short summary of
// the ticket's emails and stores it on the ticket.
func (s *Service) SummarizeTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	if s.ai == nil {
		return nil, ErrSummaryUnavailable
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	members, err := s.emails.ListByTicket(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return t, nil
	}

	prompt := buildSummaryPrompt(t, members)
	var result *out.GenerateResult
	run := func(ctx context.Context) error {
		r, err := s.ai.GenerateText(ctx, prompt, out.GenerateOptions{
			System:      summarySystemPrompt,
			MaxTokens:   200,
			Temperature: 0.2,
		})
		result = r
		return err
	}
	if s.degrader != nil {
		err = s.degrader.Run(ctx, resilience.FeatureTicketSummary, nil, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	t.Summary = strings.TrimSpace(result.Text)
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("save ticket %d summary: %w", t.ID, err)
	}
	logger.Info("[TicketService.SummarizeTicket] ticket %d summarized by %s/%s", t.ID, result.Provider, result.Model)
	return t, nil
}

func buildSummaryPrompt(t *domain.Ticket, members []*domain.Email) string {
	// newest last, capped
	if len(members) > summaryMaxEmails {
		members = members[len(members)-summaryMaxEmails:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket from %s", t.SenderEmail)
	if t.SubjectPrefix != "" {
		fmt.Fprintf(&b, " about %q", t.SubjectPrefix)
	}
	b.WriteString(".\n\n")
	for i, m := range members {
		body := m.BodyText
		if body == "" {
			body = m.BodyHTML
		}
		if r := []rune(body); len(r) > summaryBodyLimit {
			body = string(r[:summaryBodyLimit]) + "..."
		}
		fmt.Fprintf(&b, "--- Email %d (%s) ---\nSubject: %s\n%s\n\n",
			i+1, m.ReceivedAt.Format(time.RFC3339), m.Subject, strings.TrimSpace(body))
	}
	return b.String()
}

var _ in.TicketService = (*Service)(nil)
