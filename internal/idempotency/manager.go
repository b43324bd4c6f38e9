// Package idempotency guards side-effecting bot actions against
// duplicate delivery, such as a double-tapped confirmation button.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrRequestInProgress is returned when another caller holds the key.
var ErrRequestInProgress = errors.New("request with this key is already in progress")

// defaultLockTTL bounds how long a crashed caller keeps a key busy.
const defaultLockTTL = 5 * time.Minute

// Operation is the side effect to guard. Its result must marshal to JSON.
type Operation func(ctx context.Context) (interface{}, error)

// Result carries the operation response. Cached responses are decoded
// from JSON, so structs come back as map[string]interface{}.
type Result struct {
	Response  interface{}
	FromCache bool
}

// Manager deduplicates operations by key.
type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	log     *slog.Logger
	lockTTL time.Duration
}

// NewManager returns a Manager recording outcomes in store.
func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:   store,
		log:     log,
		lockTTL: defaultLockTTL,
	}
}

// Execute runs fn at most once per key within ttl. A second caller gets
// the first caller's response, or ErrRequestInProgress while fn still
// runs. Failed operations are not recorded, so the caller may retry them.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	claimed, existing, err := m.store.Claim(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if existing == nil || existing.Status != StatusCompleted {
			return nil, ErrRequestInProgress
		}
		return cached(existing)
	}

	result, err := fn(ctx)
	if err != nil {
		if relErr := m.store.Release(context.WithoutCancel(ctx), key); relErr != nil {
			m.log.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", relErr))
		}
		return nil, err
	}

	response, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := m.store.Complete(context.WithoutCancel(ctx), key, response, ttl); err != nil {
		// fn already ran; report its result and let the key expire
		m.log.Error("record idempotency result failed", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{Response: result}, nil
}

func cached(record *Record) (*Result, error) {
	var response interface{}
	if len(record.Response) > 0 {
		if err := json.Unmarshal(record.Response, &response); err != nil {
			return nil, err
		}
	}
	return &Result{Response: response, FromCache: true}, nil
}
