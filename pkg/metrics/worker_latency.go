// Package metrics tracks request and sync latencies and DB pool health.
package metrics

import (
	"slices"
	"sync"
	"time"
)

// =============================================================================
// Latency Tracker (P50/P95/P99)
// =============================================================================

// LatencyTracker keeps the last N samples in a ring buffer.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
}

// NewLatencyTracker creates a tracker holding windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]time.Duration, windowSize)}
}

// Record adds one sample, overwriting the oldest when full.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = d
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.count++
}

// Stats returns statistics over the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	window := slices.Clone(lt.samples[:n])
	total := lt.count
	lt.mu.Unlock()

	if len(window) == 0 {
		return LatencyStats{}
	}
	slices.Sort(window)

	var sum time.Duration
	for _, v := range window {
		sum += v
	}

	return LatencyStats{
		Count:   total,
		Samples: len(window),
		Min:     window[0],
		Max:     window[len(window)-1],
		Avg:     sum / time.Duration(len(window)),
		P50:     percentile(window, 0.50),
		P95:     percentile(window, 0.95),
		P99:     percentile(window, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64         `json:"count"`
	Samples int           `json:"samples"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Avg     time.Duration `json:"avg"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

// ToMap renders durations in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":   s.Count,
		"samples": s.Samples,
		"min_ms":  ms(s.Min),
		"max_ms":  ms(s.Max),
		"avg_ms":  ms(s.Avg),
		"p50_ms":  ms(s.P50),
		"p95_ms":  ms(s.P95),
		"p99_ms":  ms(s.P99),
	}
}

// =============================================================================
// Registry
// =============================================================================

// LatencyRegistry holds one tracker per key (route, sync status, ...).
type LatencyRegistry struct {
	mu         sync.RWMutex
	trackers   map[string]*LatencyTracker
	windowSize int
}

func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers:   make(map[string]*LatencyTracker),
		windowSize: windowSize,
	}
}

// Record adds a sample under key. A nil registry is a no-op.
func (r *LatencyRegistry) Record(key string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.RLock()
	t, ok := r.trackers[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[key]; !ok {
			t = NewLatencyTracker(r.windowSize)
			r.trackers[key] = t
		}
		r.mu.Unlock()
	}
	t.Record(d)
}

// AllStats returns stats for every key.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LatencyStats, len(r.trackers))
	for k, t := range r.trackers {
		out[k] = t.Stats()
	}
	return out
}
