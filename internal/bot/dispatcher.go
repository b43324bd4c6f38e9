package bot

import (
	"errors"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/state"
)

// Dispatcher picks the handler for free text from the sender's
// conversation state. Register handlers before the bot starts; the table
// is read without locking afterwards.
type Dispatcher struct {
	fsm   state.StateMachine
	steps map[state.State]handlers.Handler
	log   *slog.Logger
}

// NewDispatcher returns a Dispatcher with no state handlers.
func NewDispatcher(fsm state.StateMachine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{fsm: fsm, steps: map[state.State]handlers.Handler{}, log: log}
}

// RegisterStateHandler answers text from users in s with h.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.steps[s] = h
}

// Resolve returns the handler for the sender's state. It returns nil for
// idle users, users without a record and states nobody handles.
func (d *Dispatcher) Resolve(c telebot.Context) (handlers.Handler, error) {
	if d == nil || d.fsm == nil || c == nil || c.Sender() == nil {
		return nil, nil
	}

	st, err := d.fsm.GetState(handlers.Ctx(c), c.Sender().ID)
	switch {
	case errors.Is(err, state.ErrStateNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case st == nil || st.CurrentState == state.StateIdle:
		return nil, nil
	}

	h, ok := d.steps[st.CurrentState]
	if !ok {
		d.log.Debug("no handler for conversation state",
			slog.String("state", string(st.CurrentState)),
			slog.Int64("user_id", c.Sender().ID),
		)
	}
	return h, nil
}
