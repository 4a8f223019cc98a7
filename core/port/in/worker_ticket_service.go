package in

import (
	"context"

	"mail_worker/core/domain"
)

type TicketService interface {
	DefaultMode() domain.GroupingMode
	GetTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	ListOpenTickets(ctx context.Context, accountID int64) ([]*domain.Ticket, error)

	// Grouping
	CreateOrUpdateForEmail(ctx context.Context, e *domain.Email, mode domain.GroupingMode, autoGroupRelated bool) (*domain.Ticket, error)
	ToggleEmailOpen(ctx context.Context, emailID int64, mode domain.GroupingMode) (*domain.TicketRef, error)
	EnsureConsistency(ctx context.Context, ticketID int64) (*domain.Ticket, error)

	// Lifecycle
	CloseTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
	ReopenTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)

	// AI
	SummarizeTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error)
}
