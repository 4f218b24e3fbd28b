// Package metrics keeps in-process call statistics for the stats endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// CallTracker records the latency of the last window calls and counts
// every call and error since start.
type CallTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	calls   int64
	errors  int64
}

func NewCallTracker(window int) *CallTracker {
	if window <= 0 {
		window = 500
	}
	return &CallTracker{samples: make([]time.Duration, window)}
}

// Observe records one call.
func (t *CallTracker) Observe(d time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	if err != nil {
		t.errors++
	}
	t.samples[t.next] = d
	t.next++
	if t.next == len(t.samples) {
		t.next = 0
		t.full = true
	}
}

// Stats computes percentiles over the current window.
func (t *CallTracker) Stats() CallStats {
	t.mu.Lock()
	n := t.next
	if t.full {
		n = len(t.samples)
	}
	window := make([]time.Duration, n)
	copy(window, t.samples[:n])
	stats := CallStats{Calls: t.calls, Errors: t.errors}
	t.mu.Unlock()

	if n == 0 {
		return stats
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	stats.P50 = percentile(window, 0.50)
	stats.P95 = percentile(window, 0.95)
	stats.P99 = percentile(window, 0.99)
	stats.Max = window[n-1]
	return stats
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// CallStats is a point-in-time view of a tracker.
type CallStats struct {
	Calls  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

// ToMap renders durations in milliseconds for JSON output.
func (s CallStats) ToMap() map[string]any {
	return map[string]any{
		"calls":  s.Calls,
		"errors": s.Errors,
		"p50_ms": float64(s.P50.Microseconds()) / 1000,
		"p95_ms": float64(s.P95.Microseconds()) / 1000,
		"p99_ms": float64(s.P99.Microseconds()) / 1000,
		"max_ms": float64(s.Max.Microseconds()) / 1000,
	}
}

// Registry holds one tracker per operation name.
type Registry struct {
	mu       sync.RWMutex
	window   int
	trackers map[string]*CallTracker
}

func NewRegistry(window int) *Registry {
	return &Registry{
		window:   window,
		trackers: make(map[string]*CallTracker),
	}
}

func (r *Registry) Observe(op string, d time.Duration, err error) {
	r.mu.RLock()
	t, ok := r.trackers[op]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if t, ok = r.trackers[op]; !ok {
			t = NewCallTracker(r.window)
			r.trackers[op] = t
		}
		r.mu.Unlock()
	}
	t.Observe(d, err)
}

// Snapshot returns stats for every operation seen so far.
func (r *Registry) Snapshot() map[string]CallStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]CallStats, len(r.trackers))
	for op, t := range r.trackers {
		out[op] = t.Stats()
	}
	return out
}
