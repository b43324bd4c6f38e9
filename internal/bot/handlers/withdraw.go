package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/internal/state"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

const (
	maxMethodLength  = 64
	maxDetailsLength = 512

	confirmTTL = 24 * time.Hour
)

// Withdraw serves /withdraw. With arguments the request is filed at once;
// without them the step-by-step flow starts.
func (h *Chat) Withdraw(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	args := c.Args()
	switch {
	case len(args) == 0:
		return h.startWithdrawal(c, user)
	case len(args) < 3:
		return c.Send(h.Text(c, "withdraw.usage", nil))
	}

	req := ledger.WithdrawalRequest{
		UserID:  user.ID,
		Amount:  args[0],
		Method:  args[1],
		Details: strings.Join(args[2:], " "),
	}

	// the idempotency middleware already runs each message update once;
	// createOnce is for the confirm button, which can be tapped repeatedly
	w, err := h.Ledger.CreateWithdrawal(Ctx(c), req)
	if err != nil {
		if msg, ok := h.rejection(c, err, user); ok {
			return c.Send(msg)
		}
		return err
	}

	h.notifyWithdrawal(Ctx(c), w, user)
	return c.Send(h.createdText(c, w), h.Keyboard.BackToMenu(h.Translator(c)))
}

// WithdrawButton starts the step-by-step flow from the main menu.
func (h *Chat) WithdrawButton(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}
	return h.startWithdrawal(c, user)
}

func (h *Chat) startWithdrawal(c telebot.Context, user *domain.User) error {
	minimum := h.Ledger.Config().MinWithdrawal
	if user.Balance.LessThan(minimum) {
		return reply(c, h.Text(c, "withdraw.below_minimum", i18n.Vars{"Min": minimum})+"\n"+
			h.Text(c, "withdraw.insufficient", i18n.Vars{"Balance": user.Balance}),
			h.Keyboard.BackToMenu(h.Translator(c)))
	}

	// SetState rather than TransitionTo so /withdraw restarts a flow
	// abandoned midway.
	if err := h.FSM.SetState(Ctx(c), user.ID, state.StateWithdrawAmount, nil); err != nil {
		return err
	}

	return reply(c, h.Text(c, "withdraw.ask_amount", i18n.Vars{
		"Balance": user.Balance,
		"Min":     minimum,
	}))
}

// WithdrawAmount handles the amount step.
func (h *Chat) WithdrawAmount(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	amount, err := money.Parse(strings.TrimSpace(c.Text()))
	if err != nil || amount.IsZero() {
		return c.Send(h.Text(c, "withdraw.invalid_amount", nil))
	}

	minimum := h.Ledger.Config().MinWithdrawal
	if amount.LessThan(minimum) {
		return c.Send(h.Text(c, "withdraw.below_minimum", i18n.Vars{"Min": minimum}))
	}
	// advisory; the ledger re-checks under its own lock at confirmation
	if user.Balance.LessThan(amount) {
		return c.Send(h.Text(c, "withdraw.insufficient", i18n.Vars{"Balance": user.Balance}))
	}

	if err := h.FSM.TransitionTo(Ctx(c), user.ID, state.StateWithdrawMethod, map[string]interface{}{
		state.KeyAmount: amount.String(),
	}); err != nil {
		return err
	}

	return c.Send(h.Text(c, "withdraw.ask_method", nil), keyboard.PaymentMethods(h.Translator(c)))
}

// WithdrawMethod handles the payment method step.
func (h *Chat) WithdrawMethod(c telebot.Context) error {
	method := strings.TrimSpace(c.Text())
	if method == "" || utf8.RuneCountInString(method) > maxMethodLength {
		return c.Send(h.Text(c, "withdraw.invalid_details", nil))
	}

	if err := h.FSM.TransitionTo(Ctx(c), c.Sender().ID, state.StateWithdrawDetails, map[string]interface{}{
		state.KeyMethod: method,
	}); err != nil {
		return err
	}

	return c.Send(h.Text(c, "withdraw.ask_details", i18n.Vars{"Method": method}), keyboard.RemoveKeyboard())
}

// WithdrawDetails handles the payment details step and asks for
// confirmation.
func (h *Chat) WithdrawDetails(c telebot.Context) error {
	details := strings.TrimSpace(c.Text())
	if details == "" || utf8.RuneCountInString(details) > maxDetailsLength {
		return c.Send(h.Text(c, "withdraw.invalid_details", nil))
	}

	ctx := Ctx(c)
	userID := c.Sender().ID
	if err := h.FSM.TransitionTo(ctx, userID, state.StateWithdrawConfirm, map[string]interface{}{
		state.KeyDetails: details,
	}); err != nil {
		return err
	}

	return h.askConfirmation(c)
}

// WithdrawPending repeats the confirmation prompt for text sent while the
// buttons are still waiting.
func (h *Chat) WithdrawPending(c telebot.Context) error {
	return h.askConfirmation(c)
}

func (h *Chat) askConfirmation(c telebot.Context) error {
	st, err := h.FSM.GetState(Ctx(c), c.Sender().ID)
	if err != nil {
		return err
	}

	return c.Send(h.Text(c, "withdraw.confirm", i18n.Vars{
		"Amount":  st.String(state.KeyAmount),
		"Method":  st.String(state.KeyMethod),
		"Details": st.String(state.KeyDetails),
	}), h.Keyboard.ConfirmWithdrawal(h.Translator(c)))
}

// ConfirmWithdrawal files the collected request. A second press of the
// same button never files a second request.
func (h *Chat) ConfirmWithdrawal(c telebot.Context) error {
	ctx := Ctx(c)
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	st, err := h.FSM.GetState(ctx, user.ID)
	if errors.Is(err, state.ErrStateNotFound) || (err == nil && st.CurrentState != state.StateWithdrawConfirm) {
		return reply(c, h.Text(c, "withdraw.expired", nil))
	}
	if err != nil {
		return err
	}

	req := ledger.WithdrawalRequest{
		UserID:  user.ID,
		Amount:  st.String(state.KeyAmount),
		Method:  st.String(state.KeyMethod),
		Details: st.String(state.KeyDetails),
	}

	w, duplicate, err := h.createOnce(ctx, confirmKey(c, user.ID), req)
	switch {
	case errors.Is(err, idempotency.ErrRequestInProgress):
		return c.Respond(&telebot.CallbackResponse{Text: h.Text(c, "withdraw.in_progress", nil)})
	case duplicate:
		return reply(c, h.Text(c, "withdraw.duplicate", nil))
	case err != nil:
		msg, ok := h.rejection(c, err, user)
		if !ok {
			return err
		}
		if clearErr := h.FSM.ClearState(ctx, user.ID); clearErr != nil {
			h.Log.WarnContext(ctx, "clear withdrawal state", slog.Int64("user_id", user.ID), slog.Any("error", clearErr))
		}
		return reply(c, msg, h.Keyboard.BackToMenu(h.Translator(c)))
	}

	if err := h.FSM.TransitionTo(ctx, user.ID, state.StateIdle, nil); err != nil {
		h.Log.WarnContext(ctx, "finish withdrawal flow", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	h.notifyWithdrawal(ctx, w, user)
	return reply(c, h.createdText(c, w), h.Keyboard.BackToMenu(h.Translator(c)))
}

// CancelWithdrawal abandons the flow from the confirmation buttons.
func (h *Chat) CancelWithdrawal(c telebot.Context) error {
	if err := h.FSM.ClearState(Ctx(c), c.Sender().ID); err != nil {
		return err
	}
	return reply(c, h.Text(c, "withdraw.cancelled", nil), h.Keyboard.BackToMenu(h.Translator(c)))
}

// createOnce reports duplicate when the key already produced a request.
func (h *Chat) createOnce(ctx context.Context, key string, req ledger.WithdrawalRequest) (*domain.Withdrawal, bool, error) {
	if h.Idempotency == nil {
		w, err := h.Ledger.CreateWithdrawal(ctx, req)
		return w, false, err
	}

	result, err := h.Idempotency.Execute(ctx, key, confirmTTL, func(ctx context.Context) (interface{}, error) {
		return h.Ledger.CreateWithdrawal(ctx, req)
	})
	if err != nil {
		return nil, false, err
	}
	if result.FromCache {
		return nil, true, nil
	}

	w, _ := result.Response.(*domain.Withdrawal)
	return w, false, nil
}

func confirmKey(c telebot.Context, userID int64) string {
	var msgID int
	if cb := c.Callback(); cb != nil && cb.Message != nil {
		msgID = cb.Message.ID
	}
	return idempotency.GenerateKey("withdraw_confirm", userID, msgID)
}

// rejection turns validation failures into user-facing text.
func (h *Chat) rejection(c telebot.Context, err error, user *domain.User) (string, bool) {
	switch {
	case errors.Is(err, ledger.ErrBelowMinimum):
		return h.Text(c, "withdraw.below_minimum", i18n.Vars{"Min": h.Ledger.Config().MinWithdrawal}), true
	case errors.Is(err, ledger.ErrInsufficientBalance):
		balance := user.Balance
		if fresh, found, getErr := h.Ledger.GetUser(Ctx(c), user.ID); getErr == nil && found {
			balance = fresh.Balance
		}
		return h.Text(c, "withdraw.insufficient", i18n.Vars{"Balance": balance}), true
	case errors.Is(err, ledger.ErrInvalidAmount):
		return h.Text(c, "withdraw.invalid_amount", nil), true
	case errors.Is(err, ledger.ErrInvalidArgument):
		return h.Text(c, "withdraw.invalid_details", nil), true
	case errors.Is(err, ledger.ErrUserInactive):
		return h.Text(c, "welcome.inactive", nil), true
	}
	return "", false
}

func (h *Chat) createdText(c telebot.Context, w *domain.Withdrawal) string {
	return h.Text(c, "withdraw.created", i18n.Vars{"ID": w.ID, "Amount": w.Amount})
}

func (h *Chat) notifyWithdrawal(ctx context.Context, w *domain.Withdrawal, user *domain.User) {
	task, err := jobs.NewWithdrawalCreatedTask(w, user)
	h.enqueue(ctx, task, err)
}
