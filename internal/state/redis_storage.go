package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "fsm:state:"
	scanBatch      = 100
)

// RedisStorage keeps one JSON document per user. Documents expire after
// the TTL, and every write restarts it.
type RedisStorage struct {
	client *redis.Client
	log    *slog.Logger
	ttl    time.Duration
}

var _ Storage = (*RedisStorage)(nil)

// NewRedisStorage returns a RedisStorage. A non-positive ttl means one
// hour.
func NewRedisStorage(client *redis.Client, log *slog.Logger, ttl time.Duration) *RedisStorage {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStorage{client: client, log: log, ttl: ttl}
}

func stateKey(userID int64) string {
	return stateKeyPrefix + strconv.FormatInt(userID, 10)
}

// GetState implements Storage.
func (s *RedisStorage) GetState(ctx context.Context, userID int64) (*UserState, error) {
	raw, err := s.client.Get(ctx, stateKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state of user %d: %w", userID, err)
	}
	return decodeState(raw)
}

// SetState implements Storage. It stamps UpdatedAt on state.
func (s *RedisStorage) SetState(ctx context.Context, userID int64, state *UserState) error {
	state.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state of user %d: %w", userID, err)
	}
	if err := s.client.Set(ctx, stateKey(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save state of user %d: %w", userID, err)
	}
	return nil
}

// ClearState implements Storage.
func (s *RedisStorage) ClearState(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear state of user %d: %w", userID, err)
	}
	return nil
}

// GetAllStates implements Storage. Keys are fetched in MGET batches;
// documents that vanished or fail to decode are skipped.
func (s *RedisStorage) GetAllStates(ctx context.Context) ([]*UserState, error) {
	var (
		states []*UserState
		batch  = make([]string, 0, scanBatch)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("fetch states: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			st, err := decodeState([]byte(raw))
			if err != nil {
				s.log.Warn("skipping undecodable state", slog.String("key", batch[i]), slog.Any("error", err))
				continue
			}
			states = append(states, st)
		}
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, stateKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if key := iter.Val(); strings.HasPrefix(key, stateKeyPrefix) {
			batch = append(batch, key)
		}
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan states: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return states, nil
}

func decodeState(raw []byte) (*UserState, error) {
	var st UserState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}
