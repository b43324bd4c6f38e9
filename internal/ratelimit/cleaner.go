package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// trimStale drops hits older than ARGV[1] and deletes the key once it is
// empty. It returns 1 when the key was deleted.
var trimStale = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

const scanBatch = 100

// Cleaner sweeps limiter keys left behind by senders who went quiet. Keys
// also carry a TTL, the sweep only reclaims memory sooner.
type Cleaner struct {
	client    *redis.Client
	log       *slog.Logger
	interval  time.Duration
	maxWindow time.Duration
	now       func() time.Time
}

// NewCleaner returns a Cleaner. maxWindow is the longest configured rule
// window; hits older than that cannot count against anything.
func NewCleaner(client *redis.Client, log *slog.Logger, interval, maxWindow time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if maxWindow <= 0 {
		maxWindow = 5 * time.Minute
	}

	return &Cleaner{
		client:    client,
		log:       log,
		interval:  interval,
		maxWindow: maxWindow,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.client == nil || c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("rate limit cleaner stopped")
			return
		case <-ticker.C:
			if removed := c.Cleanup(ctx); removed > 0 {
				c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", removed))
			}
		}
	}
}

// Cleanup performs one sweep and returns how many keys were deleted.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	cutoff := fmt.Sprintf("(%d", c.now().Add(-c.maxWindow).UnixMilli())
	removed := 0

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		deleted, err := trimStale.Run(ctx, c.client, []string{key}, cutoff).Int()
		if err != nil {
			c.log.Warn("rate limit key trim failed", slog.String("key", key), slog.Any("error", err))
			continue
		}
		removed += deleted
	}
	if err := iter.Err(); err != nil && ctx.Err() == nil {
		c.log.Error("rate limit scan failed", slog.Any("error", err))
	}

	return removed
}
