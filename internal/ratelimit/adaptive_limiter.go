package ratelimit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendRedis  = "redis"
	backendMemory = "memory"
)

// primaryBackoff is how long checks skip the primary after it failed.
const primaryBackoff = 5 * time.Second

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_checks_total",
		Help: "Rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	primaryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_backend_errors_total",
		Help: "Primary limiter failures that switched checks to the fallback.",
	})
)

// AdaptiveLimiter checks the primary (Redis) limiter and degrades to the
// fallback when it fails. The fallback gets half the limit because it
// only sees this instance's traffic. After a failure the primary is left
// alone for primaryBackoff so a dead Redis does not add latency to every
// update.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
	now      func() time.Time

	// skipUntil holds unix nanoseconds; zero means the primary is healthy.
	skipUntil atomic.Int64
}

var _ Limiter = (*AdaptiveLimiter)(nil)

// NewAdaptiveLimiter combines a primary and a fallback limiter.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &AdaptiveLimiter{primary: primary, fallback: fallback, log: log, now: time.Now}
}

// Check implements Limiter.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if a.usePrimary() {
		result, err := a.primary.Check(ctx, key, limit, window)
		if err == nil {
			a.skipUntil.Store(0)
			observe(backendRedis, result)
			return result, nil
		}

		primaryFailuresTotal.Inc()
		a.skipUntil.Store(a.now().Add(primaryBackoff).UnixNano())
		a.log.WarnContext(ctx, "primary limiter failed, using fallback",
			slog.String("key", key),
			slog.Duration("backoff", primaryBackoff),
			slog.Any("error", err),
		)
	}

	result, err := a.fallback.Check(ctx, key, max(limit/2, 1), window)
	if err != nil {
		return nil, err
	}
	observe(backendMemory, result)
	return result, nil
}

func (a *AdaptiveLimiter) usePrimary() bool {
	until := a.skipUntil.Load()
	return until == 0 || a.now().UnixNano() >= until
}

func observe(backend string, result *Result) {
	outcome := "rejected"
	if result != nil && result.Allowed {
		outcome = "allowed"
	}
	checksTotal.WithLabelValues(backend, outcome).Inc()
}
