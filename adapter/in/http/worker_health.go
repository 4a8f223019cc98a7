package http

import (
	"context"
	"sort"
	"time"

	"mail_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PoolReporter returns a connection pool snapshot.
type PoolReporter func() metrics.PoolStats

type HealthHandler struct {
	checks  map[string]HealthChecker
	pools   map[string]PoolReporter
	latency *metrics.LatencyRegistry
	timeout time.Duration
}

// NewHealthHandler takes named dependency checks and pool reporters.
// pools and latency may be nil.
func NewHealthHandler(checks map[string]HealthChecker, pools map[string]PoolReporter, latency *metrics.LatencyRegistry) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthHandler{
		checks:  checks,
		pools:   pools,
		latency: latency,
		timeout: 5 * time.Second,
	}
}

func (h *HealthHandler) Register(r fiber.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready pings every dependency; any failure answers 503.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	checks, healthy := h.runChecks(c.Context())

	status, code := "ready", fiber.StatusOK
	if !healthy {
		status, code = "not ready", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Health is Ready plus pool and latency details.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	checks, healthy := h.runChecks(c.Context())

	body := fiber.Map{
		"status":    "ok",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := fiber.StatusOK
	if !healthy {
		body["status"] = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	if len(h.pools) > 0 {
		pools := make(fiber.Map, len(h.pools))
		for name, report := range h.pools {
			stats := report()
			pools[name] = fiber.Map{"stats": stats, "health": stats.Assess()}
		}
		body["pools"] = pools
	}
	if all := h.latency.AllStats(); len(all) > 0 {
		lat := make(fiber.Map, len(all))
		for k, s := range all {
			lat[k] = s.ToMap()
		}
		body["latency"] = lat
	}
	return c.Status(code).JSON(body)
}

func (h *HealthHandler) runChecks(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			results[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "healthy"
	}
	return results, healthy
}
