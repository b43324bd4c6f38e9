package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
)

// Callback identifiers carried in inline button data.
const (
	CallbackBalance         = "balance"
	CallbackReferrals       = "referrals"
	CallbackWithdraw        = "withdraw"
	CallbackStats           = "stats"
	CallbackMainMenu        = "main_menu"
	CallbackWithdrawConfirm = "withdraw_confirm"
	CallbackWithdrawCancel  = "withdraw_cancel"
	CallbackAdminUsers      = "admin_users"
)

// Builder creates the bot's inline keyboards in the user's language.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// MainMenu builds the idle state menu.
func (b *Builder) MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	return b.render(Layout{}.
		Row(
			Btn(translated(t, "main_menu.balance", "💰 Balance"), CallbackBalance),
			Btn(translated(t, "main_menu.referrals", "👥 Referrals"), CallbackReferrals),
		).
		Row(
			Btn(translated(t, "main_menu.withdraw", "💸 Withdraw"), CallbackWithdraw),
			Btn(translated(t, "main_menu.stats", "📊 My stats"), CallbackStats),
		))
}

// BackToMenu builds a single button returning to the main menu.
func (b *Builder) BackToMenu(t i18n.Translator) *telebot.ReplyMarkup {
	return b.render(Layout{}.Row(Btn(translated(t, "main_menu.back", "⬅️ Menu"), CallbackMainMenu)))
}

// ConfirmWithdrawal builds the confirm and cancel buttons of the last
// withdrawal step.
func (b *Builder) ConfirmWithdrawal(t i18n.Translator) *telebot.ReplyMarkup {
	return b.render(Layout{}.Row(
		Btn(translated(t, "withdraw.confirm_button", "✅ Confirm"), CallbackWithdrawConfirm),
		Btn(translated(t, "withdraw.cancel_button", "❌ Cancel"), CallbackWithdrawCancel),
	))
}

// AdminUsers builds the page row of the admin user list.
func (b *Builder) AdminUsers(t i18n.Translator, page Page) *telebot.ReplyMarkup {
	return b.render(Layout{}.Row(page.Buttons(t, CallbackAdminUsers)...))
}

func (b *Builder) render(layout Layout) *telebot.ReplyMarkup {
	markup, err := layout.Markup()
	if err != nil {
		// fixed layouts only fail on a programming error
		b.log.Error("render inline keyboard", slog.Any("error", err))
		return &telebot.ReplyMarkup{}
	}
	return markup
}
