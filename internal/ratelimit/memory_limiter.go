package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryLimiter keeps sliding windows in process memory. It serves as the
// fallback while Redis is unreachable, so its counts are per instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
	log     *slog.Logger
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter(log *slog.Logger) *MemoryLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &MemoryLimiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
		log:     log,
	}
}

// Check counts a hit for key if the window has room. Rejected hits are not
// recorded, so a blocked sender regains access once old hits age out.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	hits := keepRecent(m.buckets[key], now.Add(-window))

	result := &Result{ResetAt: now.Add(window)}
	if len(hits) > 0 {
		result.ResetAt = hits[0].Add(window)
	}

	if len(hits) < limit {
		hits = append(hits, now)
		result.Allowed = true
	}
	m.buckets[key] = hits

	result.Remaining = limit - len(hits)
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result, nil
}

// Cleanup drops buckets whose newest hit is older than maxAge and returns
// how many were removed.
func (m *MemoryLimiter) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for key, hits := range m.buckets {
		if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled.
func (m *MemoryLimiter) Run(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Cleanup(maxAge); removed > 0 {
				m.log.Debug("memory limiter cleanup", slog.Int("removed", removed))
			}
		}
	}
}

// keepRecent drops hits older than windowStart. Hits are in time order.
func keepRecent(hits []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(windowStart) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
