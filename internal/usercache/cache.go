// Package usercache keeps recently read user profiles in Redis.
//
// Every user has a generation counter next to the cached profile.
// Invalidate bumps it, and a fill only lands when the counter still holds
// the value seen before the database read, so a read that raced a write
// cannot put the old profile back.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/earnyha-bot/internal/domain"
)

const (
	defaultTTL = 5 * time.Minute
	// generations must outlive any read in flight
	generationTTL = 24 * time.Hour
)

// NoGeneration is returned when the generation could not be read. Set
// ignores fills carrying it.
const NoGeneration int64 = -1

// fillIfCurrent stores ARGV[1] under KEYS[1] for ARGV[3] ms when the
// generation in KEYS[2] still equals ARGV[2]. A missing generation is 0.
var fillIfCurrent = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
if current ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// Cache provides Redis-backed caching for user profiles. Failures are
// logged and reported as misses so the ledger falls back to the database.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewCache constructs a user cache backed by the provided Redis client.
func NewCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, log: log}
}

// Get returns the cached profile. On a miss it returns the generation to
// hand to Set once the profile has been read from the database.
func (c *Cache) Get(ctx context.Context, userID int64) (*domain.User, int64, bool) {
	if c == nil || c.client == nil {
		return nil, NoGeneration, false
	}

	pipe := c.client.Pipeline()
	profile := pipe.Get(ctx, profileKey(userID))
	generation := pipe.Get(ctx, generationKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("get cached user failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, NoGeneration, false
	}

	gen, err := generation.Int64()
	switch {
	case errors.Is(err, redis.Nil):
		gen = 0
	case err != nil:
		c.log.Warn("read user cache generation failed", slog.Int64("user_id", userID), slog.Any("error", err))
		gen = NoGeneration
	}

	data, err := profile.Bytes()
	if err != nil {
		return nil, gen, false
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		c.log.Warn("decode cached user failed", slog.Int64("user_id", userID), slog.Any("error", err))
		c.Invalidate(ctx, userID)
		return nil, NoGeneration, false
	}

	return &user, gen, true
}

// Set stores the profile for the cache TTL unless the user was invalidated
// after gen was handed out by Get.
func (c *Cache) Set(ctx context.Context, user *domain.User, gen int64) {
	if c == nil || c.client == nil || user == nil || gen < 0 {
		return
	}

	payload, err := json.Marshal(user)
	if err != nil {
		c.log.Warn("encode user for cache failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}

	keys := []string{profileKey(user.ID), generationKey(user.ID)}
	stored, err := fillIfCurrent.Run(ctx, c.client, keys, payload, gen, max(c.ttl.Milliseconds(), 1)).Int()
	if err != nil {
		c.log.Warn("set cached user failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	if stored == 0 {
		c.log.Debug("stale user cache fill skipped", slog.Int64("user_id", user.ID))
	}
}

// Invalidate drops the cached profiles of userIDs and bumps their
// generations so fills started earlier are discarded.
func (c *Cache) Invalidate(ctx context.Context, userIDs ...int64) {
	if c == nil || c.client == nil || len(userIDs) == 0 {
		return
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, profileKey(id))
		}
		return nil
	})
	if err != nil {
		c.log.Warn("invalidate cached users failed", slog.Any("user_ids", userIDs), slog.Any("error", err))
	}
}

func profileKey(userID int64) string {
	return fmt.Sprintf("user:profile:%d", userID)
}

func generationKey(userID int64) string {
	return fmt.Sprintf("user:generation:%d", userID)
}
