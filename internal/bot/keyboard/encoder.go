package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCallbackBytes is Telegram's limit on inline button callback data.
const MaxCallbackBytes = 64

const callbackSep = ":"

var (
	ErrEmptyCallback   = errors.New("empty callback data")
	ErrCallbackTooLong = fmt.Errorf("callback data longer than %d bytes", MaxCallbackBytes)
)

// Callback is the payload of an inline button: the action that selects a
// handler and an optional argument such as a page number.
type Callback struct {
	Action string
	Arg    string
}

// String renders the wire form without checking its length.
func (c Callback) String() string {
	if c.Arg == "" {
		return c.Action
	}
	return c.Action + callbackSep + c.Arg
}

// Encode returns the wire form, refusing payloads Telegram would reject.
func (c Callback) Encode() (string, error) {
	if c.Action == "" {
		return "", ErrEmptyCallback
	}
	raw := c.String()
	if len(raw) > MaxCallbackBytes {
		return "", fmt.Errorf("%w: %q is %d bytes", ErrCallbackTooLong, c.Action, len(raw))
	}
	return raw, nil
}

// ParseCallback reads callback data produced by Encode. Only the first
// separator splits; the argument may contain more. A leading "\f", which
// telebot adds to its own unique buttons, is ignored.
func ParseCallback(raw string) (Callback, error) {
	raw = strings.TrimPrefix(raw, "\f")
	if raw == "" {
		return Callback{}, ErrEmptyCallback
	}
	action, arg, _ := strings.Cut(raw, callbackSep)
	if action == "" {
		return Callback{}, ErrEmptyCallback
	}
	return Callback{Action: action, Arg: arg}, nil
}
