package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants exclusive access to one user's state. Lock fails fast with
// ErrStateLocked instead of waiting; the returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}

// LocalLocker serializes users within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewLocalLocker returns a LocalLocker with no locks held.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[int64]struct{})}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(_ context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[userID]; busy {
		return nil, ErrStateLocked
	}
	l.held[userID] = struct{}{}

	return func() {
		l.mu.Lock()
		delete(l.held, userID)
		l.mu.Unlock()
	}, nil
}

const (
	lockKeyPrefix = "fsm:lock:"
	// DefaultLockTTL bounds how long a crashed holder can block a user.
	DefaultLockTTL = 5 * time.Second
)

// releaseLock deletes the lock only if it still carries our token, so a
// holder whose lock expired cannot release someone else's.
var releaseLock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker serializes users across every instance sharing Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisLocker returns a RedisLocker whose locks expire after ttl.
func NewRedisLocker(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, userID int64) (func(), error) {
	key := fmt.Sprintf("%s%d", lockKeyPrefix, userID)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	if !acquired {
		return nil, ErrStateLocked
	}

	return func() {
		// the caller's context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		if err := releaseLock.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Error("failed to release user state lock", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}, nil
}
