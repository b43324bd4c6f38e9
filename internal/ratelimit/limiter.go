// Package ratelimit throttles bot updates with sliding windows kept in
// Redis, falling back to process memory when Redis is unavailable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Result captures the outcome of a rate-limit evaluation. A rejection is
// reported as Allowed=false with a nil error.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window frees a slot.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r == nil || r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Limiter counts a hit against key and reports whether it fits in limit
// hits per window. Errors mean the backend could not decide.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ErrLimitExceeded is returned by Allow when a hit is rejected.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Allow runs a single check and turns a rejection into ErrLimitExceeded.
func Allow(ctx context.Context, l Limiter, key string, limit int, window time.Duration) (*Result, error) {
	result, err := l.Check(ctx, key, limit, window)
	if err != nil {
		return result, err
	}
	if result == nil || !result.Allowed {
		return result, ErrLimitExceeded
	}
	return result, nil
}

// Scope names what a limit applies to.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeCommand Scope = "cmd"
)

// GlobalKey is shared by every sender.
func GlobalKey() string {
	return string(ScopeGlobal)
}

// UserKey counts every update of one sender.
func UserKey(userID int64) string {
	return fmt.Sprintf("%s:%d", ScopeUser, userID)
}

// CommandKey counts one command of one sender. The leading slash is
// dropped so "/withdraw" and "withdraw" share a bucket.
func CommandKey(command string, userID int64) string {
	return fmt.Sprintf("%s:%s:%d", ScopeCommand, strings.TrimPrefix(strings.ToLower(command), "/"), userID)
}
