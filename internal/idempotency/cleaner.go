package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Cleaner deletes idempotency records that would outlive maxTTL, which
// only happens when a record lost its expiry or was written by hand.
type Cleaner struct {
	client   *redis.Client
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

// NewCleaner returns a Cleaner sweeping every interval.
func NewCleaner(client *redis.Client, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if maxTTL <= 0 {
		maxTTL = 25 * time.Hour
	}
	return &Cleaner{client: client, log: log, interval: interval, maxTTL: maxTTL}
}

// Run sweeps until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Cleanup(ctx); removed > 0 {
				c.log.Info("idempotency keys cleaned", slog.Int("removed", removed))
			}
		}
	}
}

// Cleanup performs one sweep and returns how many records it deleted.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	removed := 0
	batch := make([]string, 0, scanBatch)

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			removed += c.sweep(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("idempotency cleaner scan failed", slog.Any("error", err))
		return removed
	}
	if len(batch) > 0 {
		removed += c.sweep(ctx, batch)
	}
	return removed
}

// sweep reads the TTL of keys in one round trip and deletes the stale ones.
func (c *Cleaner) sweep(ctx context.Context, keys []string) int {
	pipe := c.client.Pipeline()
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		ttls[i] = pipe.TTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("idempotency ttl lookup failed", slog.Any("error", err))
		return 0
	}

	var stale []string
	for i, cmd := range ttls {
		ttl := cmd.Val()
		// -2 means the key expired after the scan saw it.
		if ttl == -2 {
			continue
		}
		if ttl < 0 || ttl > c.maxTTL {
			stale = append(stale, keys[i])
		}
	}
	if len(stale) == 0 {
		return 0
	}

	n, err := c.client.Del(ctx, stale...).Result()
	if err != nil {
		c.log.Warn("failed to delete stale idempotency keys", slog.Int("keys", len(stale)), slog.Any("error", err))
		return 0
	}
	return int(n)
}
