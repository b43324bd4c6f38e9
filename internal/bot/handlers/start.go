package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	apperrors "github.com/Proton-105/earnyha-bot/internal/errors"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
)

// Start registers the sender, crediting the referrer when /start carries
// a referral code. Known users get their menu back.
func (h *Chat) Start(c telebot.Context) error {
	sender := c.Sender()
	if sender == nil {
		h.Log.Warn("start handler invoked without sender")
		return nil
	}

	ctx := Ctx(c)
	existing, found, err := h.Ledger.GetUser(ctx, sender.ID)
	if err != nil {
		return err
	}
	if found {
		return h.welcomeBack(c, existing)
	}

	reg := ledger.Registration{
		ID:           sender.ID,
		DisplayName:  displayName(sender),
		Handle:       sender.Username,
		ReferralCode: startPayload(c),
	}

	user, err := h.register(ctx, reg)
	if errors.Is(err, ledger.ErrInvalidReferral) {
		// strict mode rejects the code; the account is still opened
		h.Log.InfoContext(ctx, "referral code rejected", slog.Int64("user_id", sender.ID))
		reg.ReferralCode = ""
		user, err = h.register(ctx, reg)
	}

	switch {
	case errors.Is(err, ledger.ErrAlreadyExists):
		// a concurrent /start won the race
		existing, found, getErr := h.Ledger.GetUser(ctx, sender.ID)
		if getErr != nil {
			return getErr
		}
		if !found {
			return err
		}
		return h.welcomeBack(c, existing)
	case err != nil:
		return err
	}

	if err := h.FSM.ClearState(ctx, user.ID); err != nil {
		h.Log.WarnContext(ctx, "reset state of new user", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}

	bonus := h.Ledger.Config().ReferralBonus
	text := h.Text(c, "welcome.new", i18n.Vars{
		"Name":  user.DisplayName,
		"Code":  user.ReferralCode,
		"Bonus": bonus,
	})

	if user.WasReferred() {
		text += "\n\n" + h.Text(c, "welcome.referred", nil)
		task, taskErr := jobs.NewReferralBonusTask(*user.ReferredBy, user.DisplayName, bonus.String())
		h.enqueue(ctx, task, taskErr)
	}

	return c.Send(text, h.Keyboard.MainMenu(h.Translator(c)))
}

// register retries storage failures and, when the referral leg keeps
// failing, falls back to a plain registration.
func (h *Chat) register(ctx context.Context, reg ledger.Registration) (*domain.User, error) {
	var user *domain.User
	attempt := func(in ledger.Registration) func() error {
		return func() error {
			var err error
			user, err = h.Ledger.RegisterUser(ctx, in)
			return err
		}
	}

	err := apperrors.WithRetry(ctx, attempt(reg))
	if err != nil && reg.ReferralCode != "" && errors.Is(err, ledger.ErrStorageFailure) {
		h.Log.WarnContext(ctx, "referral registration failed, registering without referral",
			slog.Int64("user_id", reg.ID), slog.Any("error", err))
		reg.ReferralCode = ""
		err = apperrors.WithRetry(ctx, attempt(reg))
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (h *Chat) welcomeBack(c telebot.Context, user *domain.User) error {
	if !user.Active {
		return c.Send(h.Text(c, "welcome.inactive", nil))
	}
	return c.Send(
		h.Text(c, "welcome.back", i18n.Vars{"Name": user.DisplayName}),
		h.Keyboard.MainMenu(h.Translator(c)),
	)
}

func startPayload(c telebot.Context) string {
	if msg := c.Message(); msg != nil {
		return strings.TrimSpace(msg.Payload)
	}
	return ""
}

func displayName(u *telebot.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return "friend"
}
