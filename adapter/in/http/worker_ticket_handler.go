package http

import (
	"context"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/pkg/apperr"
	"mail_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// EmailLookup loads an email row for ownership checks.
type EmailLookup interface {
	GetByID(ctx context.Context, id int64) (*domain.Email, error)
}

type TicketHandler struct {
	tickets  in.TicketService
	accounts in.OAuthService
	emails   EmailLookup
}

func NewTicketHandler(tickets in.TicketService, accounts in.OAuthService, emails EmailLookup) *TicketHandler {
	return &TicketHandler{
		tickets:  tickets,
		accounts: accounts,
		emails:   emails,
	}
}

func (h *TicketHandler) Register(r fiber.Router) {
	r.Post("/emails/:id/toggle-open", h.ToggleOpen)
	r.Get("/accounts/:id/tickets", h.ListOpen)

	tickets := r.Group("/tickets")
	tickets.Get("/:id", h.Get)
	tickets.Post("/:id/close", h.Close)
	tickets.Post("/:id/reopen", h.Reopen)
	tickets.Post("/:id/summary", h.Summarize)
	tickets.Post("/:id/repair", h.Repair)
}

// ToggleOpen flips an email's open flag and returns its ticket, or null when
// the email no longer belongs to one.
func (h *TicketHandler) ToggleOpen(c *fiber.Ctx) error {
	userID, err := MustGetUserID(c)
	if err != nil {
		return err
	}
	emailID, err := ParamID(c, "id")
	if err != nil {
		return err
	}
	mode, err := domain.ParseGroupingMode(c.Query("mode"), h.tickets.DefaultMode())
	if err != nil {
		return apperr.InvalidInput("mode", err.Error())
	}

	e, err := h.emails.GetByID(c.Context(), emailID)
	if err != nil {
		return mapError(err, 0)
	}
	if _, err := h.accounts.GetAccount(c.Context(), userID, e.AccountID); err != nil {
		return mapError(err, e.AccountID)
	}

	ref, err := h.tickets.ToggleEmailOpen(c.Context(), emailID, mode)
	if err != nil {
		return mapError(err, e.AccountID)
	}
	return response.OK(c, ref)
}

func (h *TicketHandler) ListOpen(c *fiber.Ctx) error {
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

	tickets, err := h.tickets.ListOpenTickets(c.Context(), accountID)
	if err != nil {
		return mapError(err, accountID)
	}
	return response.OKWithMeta(c, tickets, &response.Meta{Total: len(tickets)})
}

func (h *TicketHandler) Get(c *fiber.Ctx) error {
	t, err := h.ownedTicket(c)
	if err != nil {
		return err
	}
	return response.OK(c, t)
}

func (h *TicketHandler) Close(c *fiber.Ctx) error {
	return h.apply(c, h.tickets.CloseTicket)
}

func (h *TicketHandler) Reopen(c *fiber.Ctx) error {
	return h.apply(c, h.tickets.ReopenTicket)
}

func (h *TicketHandler) Summarize(c *fiber.Ctx) error {
	return h.apply(c, h.tickets.SummarizeTicket)
}

// Repair re-derives a ticket's status and open flags from its emails.
func (h *TicketHandler) Repair(c *fiber.Ctx) error {
	return h.apply(c, h.tickets.EnsureConsistency)
}

func (h *TicketHandler) apply(c *fiber.Ctx, op func(ctx context.Context, ticketID int64) (*domain.Ticket, error)) error {
	t, err := h.ownedTicket(c)
	if err != nil {
		return err
	}
	updated, err := op(c.Context(), t.ID)
	if err != nil {
		return mapError(err, t.AccountID)
	}
	return response.OK(c, updated)
}

func (h *TicketHandler) ownedTicket(c *fiber.Ctx) (*domain.Ticket, error) {
	userID, err := MustGetUserID(c)
	if err != nil {
		return nil, err
	}
	ticketID, err := ParamID(c, "id")
	if err != nil {
		return nil, err
	}
	t, err := h.tickets.GetTicket(c.Context(), ticketID)
	if err != nil {
		return nil, mapError(err, 0)
	}
	if err := h.checkOwner(c.Context(), userID, t.AccountID); err != nil {
		return nil, err
	}
	return t, nil
}

func (h *TicketHandler) checkOwner(ctx context.Context, userID uuid.UUID, accountID int64) error {
	if _, err := h.accounts.GetAccount(ctx, userID, accountID); err != nil {
		return mapError(err, accountID)
	}
	return nil
}
