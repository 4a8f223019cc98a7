package domain

import (
	"sort"
	"time"
)

// Thread groups emails sharing a provider thread id. Aggregates are always
// recomputed from member rows.
type Thread struct {
	ID               int64      `json:"id"`
	AccountID        int64      `json:"account_id"`
	ProviderThreadID string     `json:"provider_thread_id"`
	Subject          string     `json:"subject"`
	Participants     []string   `json:"participants"`
	MessageCount     int        `json:"message_count"`
	UnreadCount      int        `json:"unread_count"`
	FirstMessageAt   *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Recompute rebuilds the thread aggregates from its member emails.
func (t *Thread) Recompute(members []*Email) {
	seen := make(map[string]struct{})
	t.MessageCount = len(members)
	t.UnreadCount = 0
	t.FirstMessageAt = nil
	t.LastMessageAt = nil

	for _, e := range members {
		if !e.IsRead {
			t.UnreadCount++
		}
		addrs := make([]string, 0, 1+len(e.To)+len(e.Cc))
		addrs = append(addrs, e.FromEmail)
		addrs = append(addrs, e.To...)
		addrs = append(addrs, e.Cc...)
		for _, addr := range addrs {
			if a := NormalizeAddress(addr); a != "" {
				seen[a] = struct{}{}
			}
		}
		at := e.ReceivedAt
		if t.FirstMessageAt == nil || at.Before(*t.FirstMessageAt) {
			first := at
			t.FirstMessageAt = &first
		}
		if t.LastMessageAt == nil || at.After(*t.LastMessageAt) {
			last := at
			t.LastMessageAt = &last
		}
	}

	t.Participants = make([]string, 0, len(seen))
	for a := range seen {
		t.Participants = append(t.Participants, a)
	}
	sort.Strings(t.Participants)
}
