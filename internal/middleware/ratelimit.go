package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/ratelimit"
	"github.com/Proton-105/earnyha-bot/pkg/metrics"
)

const checkTimeout = time.Second

// RateLimitMiddleware enforces the global, per-user and per-command limits
// for incoming Telegram updates.
type RateLimitMiddleware struct {
	limiter ratelimit.Limiter
	rules   *ratelimit.Rules
	i18n    *i18n.Manager
	log     *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, translations *i18n.Manager, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter: limiter,
		rules:   rules,
		i18n:    translations,
		log:     log,
	}
}

type limitCheck struct {
	scope ratelimit.Scope
	key   string
}

// Handle returns a telebot middleware. Limiter failures let the update
// through: a degraded limiter must not take the bot down.
func (m *RateLimitMiddleware) Handle(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		if m.limiter == nil || m.rules == nil || !m.rules.Enabled() {
			return next(c)
		}

		sender := c.Sender()
		if sender == nil {
			return next(c)
		}

		userID := sender.ID
		if m.rules.IsWhitelisted(userID) {
			return next(c)
		}

		command := CommandLabel(c)
		checks := []limitCheck{
			{scope: ratelimit.ScopeGlobal, key: ratelimit.GlobalKey()},
			{scope: ratelimit.ScopeUser, key: ratelimit.UserKey(userID)},
			{scope: ratelimit.ScopeCommand, key: ratelimit.CommandKey(command, userID)},
		}

		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		for _, check := range checks {
			allowed, err := m.allow(ctx, check, command)
			if err != nil {
				m.log.Warn("rate limiter error", slog.String("scope", string(check.scope)), slog.Int64("user_id", userID), slog.Any("error", err))
				continue
			}
			if !allowed {
				m.log.Warn("rate limit exceeded",
					slog.String("scope", string(check.scope)),
					slog.String("command", command),
					slog.Int64("user_id", userID),
				)
				metrics.RecordError("rate_limited", "low")
				return m.reject(c)
			}
		}

		return next(c)
	}
}

func (m *RateLimitMiddleware) allow(ctx context.Context, check limitCheck, command string) (bool, error) {
	rule, ok := m.rules.Lookup(check.scope, command)
	// unset rules disable their scope
	if !ok {
		return true, nil
	}

	_, err := ratelimit.Allow(ctx, m.limiter, check.key, rule.Limit, rule.Window)
	switch {
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return false, nil
	case err != nil:
		return true, err
	}
	return true, nil
}

func (m *RateLimitMiddleware) reject(c telebot.Context) error {
	lang := ""
	if c.Sender() != nil {
		lang = c.Sender().LanguageCode
	}
	text := m.i18n.Translator(lang).T("errors.rate_limited")

	if c.Callback() != nil {
		return c.Respond(&telebot.CallbackResponse{Text: text, ShowAlert: true})
	}
	return c.Send(text)
}
