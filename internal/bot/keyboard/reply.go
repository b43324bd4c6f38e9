package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
)

// PaymentMethods builds a one-time reply keyboard with common payout
// methods. The pressed label arrives as a plain text message, so the
// withdrawal flow accepts it like a typed method.
func PaymentMethods(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}

	lookup := func(key, fallback string) string {
		return translated(t, key, fallback)
	}

	upiBtn := markup.Text(lookup("withdraw.method_upi", "UPI"))
	paytmBtn := markup.Text(lookup("withdraw.method_paytm", "Paytm"))
	bankBtn := markup.Text(lookup("withdraw.method_bank", "Bank transfer"))

	markup.Reply(
		markup.Row(upiBtn, paytmBtn),
		markup.Row(bankBtn),
	)

	return markup
}

// RemoveKeyboard hides a previously shown reply keyboard.
func RemoveKeyboard() *telebot.ReplyMarkup {
	return &telebot.ReplyMarkup{RemoveKeyboard: true}
}
