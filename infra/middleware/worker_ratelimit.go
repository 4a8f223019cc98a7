package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"mail_worker/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Limiter admits or rejects one request for key, returning the wait on rejection.
// ratelimit.SlidingWindowLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// RateLimit throttles per authenticated user, falling back to client IP.
func RateLimit(l Limiter, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if uid, ok := c.Locals("user_id").(uuid.UUID); ok && uid != uuid.Nil {
			key = "user:" + uid.String()
		}

		ok, wait := l.Allow(c.Context(), "api:"+key)
		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		if ok {
			return c.Next()
		}

		secs := int(math.Ceil(wait.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return apperr.RateLimited(nil).WithDetail("retry_after", secs)
	}
}

// MemoryLimiter is a fixed-window limiter for single-process deployments.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string]*requestInfo
	limit    int
	window   time.Duration
	now      func() time.Time
}

type requestInfo struct {
	count     int
	expiresAt time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	info, ok := rl.requests[key]
	if !ok || now.After(info.expiresAt) {
		rl.requests[key] = &requestInfo{count: 1, expiresAt: now.Add(rl.window)}
		if len(rl.requests) > 10_000 {
			rl.cleanupLocked(now)
		}
		return true, 0
	}
	if info.count >= rl.limit {
		return false, info.expiresAt.Sub(now)
	}
	info.count++
	return true, 0
}

func (rl *MemoryLimiter) cleanupLocked(now time.Time) {
	for key, info := range rl.requests {
		if now.After(info.expiresAt) {
			delete(rl.requests, key)
		}
	}
}
