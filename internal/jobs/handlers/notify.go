// Package handlers processes the background tasks enqueued by the bot.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	apperrors "github.com/Proton-105/earnyha-bot/internal/errors"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
)

// Notifier delivers messages to Telegram chats.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string) error
	NotifyUser(ctx context.Context, userID int64, text string) error
}

// NotificationHandler turns notification tasks into chat messages.
type NotificationHandler struct {
	notifier Notifier
	t        i18n.Translator
	currency string
	log      *slog.Logger
}

func NewNotificationHandler(notifier Notifier, t i18n.Translator, currency string, log *slog.Logger) *NotificationHandler {
	if log == nil {
		log = slog.Default()
	}

	return &NotificationHandler{
		notifier: notifier,
		t:        t,
		currency: currency,
		log:      log,
	}
}

// WithdrawalCreated notifies admins about a new withdrawal request.
func (h *NotificationHandler) WithdrawalCreated(ctx context.Context, t *asynq.Task) error {
	var payload jobs.WithdrawalCreatedPayload
	if err := decode(t, &payload); err != nil {
		return err
	}

	name := payload.DisplayName
	if payload.Handle != "" {
		name += " @" + payload.Handle
	}

	text := i18n.Render(h.t, "notify.withdrawal_created", i18n.Vars{
		"ID":       payload.WithdrawalID,
		"UserID":   payload.UserID,
		"Name":     name,
		"Currency": h.currency,
		"Amount":   payload.Amount,
		"Method":   payload.Method,
		"Details":  payload.Details,
	})

	if err := h.notifier.NotifyAdmins(ctx, text); err != nil {
		return fmt.Errorf("notify admins about withdrawal %d: %w", payload.WithdrawalID, err)
	}

	h.log.InfoContext(ctx, "admins notified about withdrawal", slog.Int64("withdrawal_id", payload.WithdrawalID))
	return nil
}

// WithdrawalStatus tells the user their request was processed.
func (h *NotificationHandler) WithdrawalStatus(ctx context.Context, t *asynq.Task) error {
	var payload jobs.WithdrawalStatusPayload
	if err := decode(t, &payload); err != nil {
		return err
	}

	text := i18n.Render(h.t, "notify.withdrawal_status", i18n.Vars{
		"ID":       payload.WithdrawalID,
		"Currency": h.currency,
		"Amount":   payload.Amount,
		"Status":   payload.Status,
	})

	if err := h.notifier.NotifyUser(ctx, payload.UserID, text); err != nil {
		return h.undelivered(ctx, t, fmt.Errorf("notify user %d about withdrawal %d: %w", payload.UserID, payload.WithdrawalID, err))
	}

	return nil
}

// ReferralBonus congratulates the referrer.
func (h *NotificationHandler) ReferralBonus(ctx context.Context, t *asynq.Task) error {
	var payload jobs.ReferralBonusPayload
	if err := decode(t, &payload); err != nil {
		return err
	}

	text := i18n.Render(h.t, "notify.referral_bonus", i18n.Vars{
		"Name":     payload.ReferredName,
		"Currency": h.currency,
		"Bonus":    payload.Bonus,
	})

	if err := h.notifier.NotifyUser(ctx, payload.ReferrerID, text); err != nil {
		return h.undelivered(ctx, t, fmt.Errorf("notify referrer %d: %w", payload.ReferrerID, err))
	}

	return nil
}

// undelivered drops tasks whose recipient can never be reached, such as a
// user who blocked the bot, and lets asynq retry everything else.
func (h *NotificationHandler) undelivered(ctx context.Context, t *asynq.Task, err error) error {
	if !apperrors.HasCode(err, apperrors.CodeRecipientUnreachable) {
		return err
	}
	h.log.InfoContext(ctx, "notification recipient unreachable", slog.String("task_type", t.Type()), slog.Any("error", err))
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		// a malformed payload never decodes on retry
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// RenderStats formats ledger totals for admins.
func RenderStats(t i18n.Translator, currency string, stats domain.Stats) string {
	return i18n.Render(t, "admin.stats", i18n.Vars{
		"Users":         stats.TotalUsers,
		"Active":        stats.ActiveUsers,
		"Referrals":     stats.ReferralRecords,
		"Currency":      currency,
		"Balance":       stats.TotalBalance,
		"Earned":        stats.TotalEarned,
		"Pending":       stats.PendingWithdrawals,
		"PendingAmount": stats.PendingAmount,
	})
}
