package keyboard_test

import (
	"testing"

	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	"github.com/Proton-105/earnyha-bot/internal/testutil"
)

func TestPaymentMethods(t *testing.T) {
	translator := &mockTranslator{
		translations: map[string]string{
			"withdraw.method_upi":   "UPI",
			"withdraw.method_paytm": "Paytm",
			"withdraw.method_bank":  "Bank",
		},
	}

	markup := keyboard.PaymentMethods(translator)

	if !markup.ResizeKeyboard || !markup.OneTimeKeyboard {
		t.Fatalf("expected a resized one-time keyboard")
	}

	expectedRows := [][]string{
		{"UPI", "Paytm"},
		{"Bank"},
	}

	testutil.AssertEqual(t, len(expectedRows), len(markup.ReplyKeyboard))

	for i, row := range expectedRows {
		testutil.AssertEqual(t, len(row), len(markup.ReplyKeyboard[i]))
		for j, text := range row {
			testutil.AssertEqual(t, text, markup.ReplyKeyboard[i][j].Text)
		}
	}
}

func TestPaymentMethodsFallbackLabels(t *testing.T) {
	markup := keyboard.PaymentMethods(nil)
	testutil.AssertEqual(t, "UPI", markup.ReplyKeyboard[0][0].Text)
	testutil.AssertEqual(t, "Bank transfer", markup.ReplyKeyboard[1][0].Text)
}

func TestRemoveKeyboard(t *testing.T) {
	testutil.AssertEqual(t, true, keyboard.RemoveKeyboard().RemoveKeyboard)
}
