package keyboard

import (
	"fmt"

	telebot "gopkg.in/telebot.v3"
)

// Button is an inline button before it is rendered for Telegram.
type Button struct {
	Label string
	Callback
}

// Btn returns a button that carries only an action.
func Btn(label, action string) Button {
	return Button{Label: label, Callback: Callback{Action: action}}
}

// Layout holds rows of inline buttons.
type Layout [][]Button

// Row returns the layout with one more row. Empty rows are skipped.
func (l Layout) Row(buttons ...Button) Layout {
	if len(buttons) == 0 {
		return l
	}
	return append(l, append([]Button(nil), buttons...))
}

// Markup renders the layout. Callback data goes into Data only, since
// telebot rewrites Data of buttons that set Unique.
func (l Layout) Markup() (*telebot.ReplyMarkup, error) {
	rows := make([][]telebot.InlineButton, 0, len(l))
	for _, buttons := range l {
		row := make([]telebot.InlineButton, 0, len(buttons))
		for _, btn := range buttons {
			data, err := btn.Encode()
			if err != nil {
				return nil, fmt.Errorf("button %q: %w", btn.Label, err)
			}
			row = append(row, telebot.InlineButton{Text: btn.Label, Data: data})
		}
		rows = append(rows, row)
	}
	return &telebot.ReplyMarkup{InlineKeyboard: rows}, nil
}
