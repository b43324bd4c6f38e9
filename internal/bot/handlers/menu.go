package handlers

import (
	"fmt"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
)

// Menu shows the main menu. It serves /menu and the back button.
func (h *Chat) Menu(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}
	return reply(c, h.Text(c, "main_menu.title", nil), h.Keyboard.MainMenu(h.Translator(c)))
}

// Balance shows the sender's balance and lifetime earnings.
func (h *Chat) Balance(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	text := h.Text(c, "balance.text", i18n.Vars{
		"Balance":   user.Balance,
		"Earned":    user.TotalEarned,
		"Referrals": user.TotalReferrals,
		"Min":       h.Ledger.Config().MinWithdrawal,
	})
	return reply(c, text, h.Keyboard.BackToMenu(h.Translator(c)))
}

// Referrals shows the sender's code, invite link and referral earnings.
func (h *Chat) Referrals(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	text := h.Text(c, "referrals.text", i18n.Vars{
		"Count":  user.TotalReferrals,
		"Earned": user.TotalEarned,
		"Bonus":  h.Ledger.Config().ReferralBonus,
		"Code":   user.ReferralCode,
		"Link":   ReferralLink(h.BotUsername, user.ReferralCode),
	})
	return reply(c, text, h.Keyboard.BackToMenu(h.Translator(c)))
}

// Stats shows the sender's account summary.
func (h *Chat) Stats(c telebot.Context) error {
	user, err := h.currentUser(c)
	if err != nil || user == nil {
		return err
	}

	referred := h.Text(c, "common.no", nil)
	if user.WasReferred() {
		referred = h.Text(c, "common.yes", nil)
	}

	text := h.Text(c, "stats.text", i18n.Vars{
		"Joined":    user.CreatedAt.Format("2006-01-02"),
		"Referrals": user.TotalReferrals,
		"Earned":    user.TotalEarned,
		"Balance":   user.Balance,
		"Referred":  referred,
	})
	return reply(c, text, h.Keyboard.BackToMenu(h.Translator(c)))
}

// Help lists the commands. It works before registration.
func (h *Chat) Help(c telebot.Context) error {
	return c.Send(h.Text(c, "help.text", nil))
}

// Unknown answers text that matched no command or conversation step.
func (h *Chat) Unknown(c telebot.Context) error {
	return c.Send(h.Text(c, "errors.unknown_input", nil))
}

// ReferralLink builds the deep link that starts the bot with code.
func ReferralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, code)
}
