package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
)

// updateTTL covers Telegram's redelivery window with room to spare.
const updateTTL = 24 * time.Hour

// Idempotency runs each Telegram update at most once. Updates redelivered
// after a timeout, or still being handled by another instance, are
// dropped without a reply. A nil manager disables the check.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil || manager == nil {
			return next
		}

		return func(c telebot.Context) error {
			key := UpdateKey(c)
			if key == "" {
				return next(c)
			}

			ctx := handlers.Ctx(c)
			res, err := manager.Execute(ctx, key, updateTTL, func(context.Context) (interface{}, error) {
				return nil, next(c)
			})
			switch {
			case errors.Is(err, idempotency.ErrRequestInProgress):
				log.DebugContext(ctx, "update already in progress", slog.String("key", key))
				return nil
			case err != nil:
				return err
			case res != nil && res.FromCache:
				log.InfoContext(ctx, "duplicate update ignored", slog.String("key", key))
			}
			return nil
		}
	}
}

// UpdateKey identifies an update. Button presses are keyed by callback
// ID, falling back to the message and data they came from; messages by
// chat and message ID. It returns "" for updates that cannot be keyed.
func UpdateKey(c telebot.Context) string {
	if c == nil {
		return ""
	}

	if cb := c.Callback(); cb != nil {
		switch {
		case cb.ID != "":
			return idempotency.GenerateKey("callback", cb.ID)
		case cb.Message != nil && cb.Message.Chat != nil:
			return idempotency.GenerateKey("callback_message", cb.Message.Chat.ID, cb.Message.ID, cb.Data)
		}
		return ""
	}

	msg := c.Message()
	if msg == nil || msg.ID == 0 {
		return ""
	}
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	return idempotency.GenerateKey("message", chatID, strconv.Itoa(msg.ID))
}
