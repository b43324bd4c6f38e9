// Package health runs readiness checks against the bot's dependencies.
package health

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v3"
)

const defaultCheckTimeout = 3 * time.Second

// StatusOK is reported for a passing component.
const StatusOK = "OK"

// Checkable is a dependency that can report whether it is usable.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Checker runs named checks concurrently under a shared timeout.
type Checker struct {
	log     *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]Checkable
}

// NewChecker returns a Checker without checks.
func NewChecker(log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{log: log, timeout: defaultCheckTimeout, checks: map[string]Checkable{}}
}

// AddCheck registers check under name, replacing an earlier one.
func (c *Checker) AddCheck(name string, check Checkable) {
	if name == "" || check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check returns StatusOK or the error text per component. healthy is
// false when any check failed.
func (c *Checker) Check(ctx context.Context) (results map[string]string, healthy bool) {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		name string
		err  error
	}
	done := make(chan outcome, len(checks))
	for name, check := range checks {
		go func() { done <- outcome{name, check.HealthCheck(ctx)} }()
	}

	results = make(map[string]string, len(checks))
	healthy = true
	for range checks {
		o := <-done
		if o.err == nil {
			results[o.name] = StatusOK
			continue
		}
		healthy = false
		results[o.name] = o.err.Error()
		c.log.Error("health check failed", slog.String("component", o.name), slog.Any("error", o.err))
	}
	return results, healthy
}

// Pinger is implemented by stores that can verify their connection, such
// as the ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewDBChecker checks the ledger database.
func NewDBChecker(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return errors.New("database is not configured")
		}
		return p.Ping(ctx)
	}
}

// RedisPinger is the part of redis.Client used by NewRedisChecker.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisChecker sends PING to Redis.
func NewRedisChecker(p RedisPinger) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return redis.ErrClosed
		}
		return p.Ping(ctx).Err()
	}
}

// NewTelegramChecker passes once the bot has authenticated against the
// Bot API. It does not call the API, so health checks cannot exhaust its limits.
func NewTelegramChecker(bot *telebot.Bot) CheckFunc {
	return func(context.Context) error {
		if bot == nil || bot.Me == nil {
			return errors.New("telegram bot is not initialized")
		}
		return nil
	}
}
