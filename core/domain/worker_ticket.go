package domain

import (
	"fmt"
	"strings"
	"time"
)

// GroupingMode decides which open emails share a ticket.
type GroupingMode string

const (
	// GroupBySender puts every open email from one sender in one ticket.
	GroupBySender GroupingMode = "sender"
	// GroupBySenderSubject also requires the normalized subjects to match.
	GroupBySenderSubject GroupingMode = "sender_subject"
)

// ParseGroupingMode accepts "sender", "sender_subject" and "sender+subject".
// An empty string yields def.
func ParseGroupingMode(s string, def GroupingMode) (GroupingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "sender":
		return GroupBySender, nil
	case "sender_subject", "sender+subject", "sender subject":
		return GroupBySenderSubject, nil
	default:
		return "", fmt.Errorf("unknown grouping mode %q", s)
	}
}

type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// Ticket groups open emails. Within an account at most one open ticket exists
// per (SenderEmail, NormalizedSubject, GroupingMode).
type Ticket struct {
	ID                int64        `json:"id"`
	AccountID         int64        `json:"account_id"`
	SenderEmail       string       `json:"sender_email"`
	SenderName        string       `json:"sender_name,omitempty"`
	SubjectPrefix     string       `json:"subject_prefix"`
	NormalizedSubject string       `json:"normalized_subject"`
	Status            TicketStatus `json:"status"`
	GroupingMode      GroupingMode `json:"grouping_mode"`
	EmailCount        int          `json:"email_count"`
	FirstEmailAt      *time.Time   `json:"first_email_at,omitempty"`
	LastEmailAt       *time.Time   `json:"last_email_at,omitempty"`
	ClosedAt          *time.Time   `json:"closed_at,omitempty"`
	Summary           string       `json:"summary,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (t *Ticket) IsOpen() bool { return t.Status == TicketOpen }

// TicketKey is the grouping key for a ticket lookup. Subject is empty in
// sender mode.
type TicketKey struct {
	AccountID         int64
	SenderEmail       string
	NormalizedSubject string
	Mode              GroupingMode
}

// TicketRef is the small handle returned to UI callers.
type TicketRef struct {
	ID         int64        `json:"id"`
	Status     TicketStatus `json:"status"`
	EmailCount int          `json:"email_count"`
}

func (t *Ticket) Ref() *TicketRef {
	return &TicketRef{ID: t.ID, Status: t.Status, EmailCount: t.EmailCount}
}

// Recompute refreshes EmailCount and the first/last timestamps from members.
func (t *Ticket) Recompute(members []*Email) {
	t.EmailCount = len(members)
	t.FirstEmailAt = nil
	t.LastEmailAt = nil
	for _, e := range members {
		at := e.ReceivedAt
		if t.FirstEmailAt == nil || at.Before(*t.FirstEmailAt) {
			first := at
			t.FirstEmailAt = &first
		}
		if t.LastEmailAt == nil || at.After(*t.LastEmailAt) {
			last := at
			t.LastEmailAt = &last
		}
	}
}
