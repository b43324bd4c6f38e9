package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record states.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

const keyPrefix = "idempotency:"

// Record is what a key holds: an operation in flight, or a finished one
// with its JSON response.
type Record struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Store persists records. Claim must be atomic: of several concurrent
// claims on a missing key exactly one succeeds.
type Store interface {
	// Claim stores a processing record for key unless one exists, in which
	// case the existing record is returned and claimed is false.
	Claim(ctx context.Context, key string, ttl time.Duration) (claimed bool, existing *Record, err error)
	// Complete replaces the record with a completed one.
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops the record so the operation may run again.
	Release(ctx context.Context, key string) error
}

// claimScript returns the current record, or stores ARGV[1] with a TTL of
// ARGV[2] milliseconds and returns nil.
var claimScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
  return current
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return false
`)

// RedisStore keeps each record as one JSON string.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore.
func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, log: log}
}

// Claim implements Store.
func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, *Record, error) {
	processing, err := json.Marshal(Record{Status: StatusProcessing})
	if err != nil {
		return false, nil, err
	}

	raw, err := claimScript.Run(ctx, s.client, []string{keyPrefix + key}, processing, ttl.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("claim %s: %w", key, err)
	}

	var existing Record
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		s.log.Warn("undecodable idempotency record", slog.String("key", key), slog.Any("error", err))
		// an unreadable record still marks the key as taken
		existing = Record{Status: StatusProcessing}
	}
	return false, &existing, nil
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	raw, err := json.Marshal(Record{Status: StatusCompleted, Response: response})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
