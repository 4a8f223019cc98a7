package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"mail_worker/core/port/out"

	"github.com/google/uuid"
)

func TestMemoryOAuthStateStore_OneTimeUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOAuthStateStore()
	user := uuid.New()
	if err := s.Save(ctx, "st", user, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, err := s.Consume(ctx, "st")
	if err != nil || got != user {
		t.Fatalf("Consume() = %v, %v", got, err)
	}
	if _, err := s.Consume(ctx, "st"); !errors.Is(err, out.ErrStateNotFound) {
		t.Errorf("second Consume() error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryOAuthStateStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOAuthStateStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	if err := s.Save(ctx, "st", uuid.New(), time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := s.Consume(ctx, "st"); !errors.Is(err, out.ErrStateNotFound) {
		t.Errorf("expired Consume() error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryOAuthStateStore_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOAuthStateStore()
	tests := []struct {
		name  string
		state string
		user  uuid.UUID
	}{
		{"empty state", "", uuid.New()},
		{"nil user", "st", uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Save(ctx, tt.state, tt.user, time.Minute); err == nil {
				t.Error("Save() error = nil, want validation error")
			}
		})
	}
}
