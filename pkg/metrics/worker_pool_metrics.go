package metrics

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats is a driver-neutral snapshot of a connection pool.
type PoolStats struct {
	Open       int   `json:"open"`
	InUse      int   `json:"in_use"`
	Idle       int   `json:"idle"`
	Max        int   `json:"max"`
	WaitCount  int64 `json:"wait_count"`
	WaitTimeMs int64 `json:"wait_time_ms"`
}

// SQLPoolStats reads database/sql pool counters. A nil db yields zero stats.
func SQLPoolStats(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		Open:       s.OpenConnections,
		InUse:      s.InUse,
		Idle:       s.Idle,
		Max:        s.MaxOpenConnections,
		WaitCount:  s.WaitCount,
		WaitTimeMs: s.WaitDuration.Milliseconds(),
	}
}

// PgxPoolStats reads pgxpool counters. Empty acquires count as waits.
func PgxPoolStats(pool *pgxpool.Pool) PoolStats {
	if pool == nil {
		return PoolStats{}
	}
	s := pool.Stat()
	return PoolStats{
		Open:       int(s.TotalConns()),
		InUse:      int(s.AcquiredConns()),
		Idle:       int(s.IdleConns()),
		Max:        int(s.MaxConns()),
		WaitCount:  s.EmptyAcquireCount(),
		WaitTimeMs: s.AcquireDuration().Milliseconds(),
	}
}

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"`
	Message     string           `json:"message,omitempty"`
}

// Assess grades utilization: 95% and up is unhealthy, 80% degraded.
// More than 5s of cumulative waiting degrades an otherwise healthy pool.
func (s PoolStats) Assess() PoolHealth {
	if s.Max == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unbounded pool"}
	}

	h := PoolHealth{Utilization: float64(s.InUse) / float64(s.Max)}
	switch {
	case h.Utilization >= 0.95:
		h.Status, h.Message = PoolUnhealthy, "pool nearly exhausted"
	case h.Utilization >= 0.80:
		h.Status, h.Message = PoolDegraded, "high pool utilization"
	default:
		h.Status = PoolHealthy
	}
	if h.Status == PoolHealthy && s.WaitCount > 0 && s.WaitTimeMs > 5000 {
		h.Status, h.Message = PoolDegraded, "elevated connection wait times"
	}
	return h
}
