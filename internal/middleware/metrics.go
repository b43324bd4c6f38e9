package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/earnyha-bot/internal/errors"
	"github.com/Proton-105/earnyha-bot/pkg/metrics"
)

// Metrics records the latency of every update and labels its outcome with
// "ok" or the severity of the error the handler returned, so expected
// rejections such as a low balance stay apart from real failures.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		started := time.Now()
		err := next(c)
		metrics.RecordCommand(CommandLabel(c), outcome(err), time.Since(started))
		return err
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.Classify(err).Severity)
}

// CommandLabel names an update without leaking free text into label
// values: the command word, the callback action, or "text".
func CommandLabel(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		if data, err := keyboard.ParseCallback(cb.Data); err == nil {
			return data.Action
		}
		return "unknown"
	}

	text := strings.TrimSpace(c.Text())
	if !strings.HasPrefix(text, "/") {
		if text == "" {
			return "unknown"
		}
		return "text"
	}

	word, _, _ := strings.Cut(strings.Fields(text)[0], "@")
	return strings.ToLower(word)
}
