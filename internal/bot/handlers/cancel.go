package handlers

import (
	"errors"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	"github.com/Proton-105/earnyha-bot/internal/state"
)

// Cancel resets the sender's conversation and returns them to the main menu.
func (h *Chat) Cancel(c telebot.Context) error {
	if c.Sender() == nil {
		h.Log.Warn("cancel handler invoked without sender context")
		return nil
	}

	ctx := Ctx(c)
	userID := c.Sender().ID

	st, err := h.FSM.GetState(ctx, userID)
	switch {
	case errors.Is(err, state.ErrStateNotFound), err == nil && st.CurrentState == state.StateIdle:
		return c.Send(h.Text(c, "cancel.nothing", nil), keyboard.RemoveKeyboard())
	case err != nil:
		return err
	}

	if err := h.FSM.ClearState(ctx, userID); err != nil {
		h.Log.ErrorContext(ctx, "failed to clear user state", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}

	if err := c.Send(h.Text(c, "cancel.done", nil), keyboard.RemoveKeyboard()); err != nil {
		return err
	}
	return c.Send(h.Text(c, "main_menu.title", nil), h.Keyboard.MainMenu(h.Translator(c)))
}
