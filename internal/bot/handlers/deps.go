package handlers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
	"github.com/Proton-105/earnyha-bot/internal/state"
)

// Deps carries everything the chat handlers need. Jobs and Idempotency
// are optional.
type Deps struct {
	Ledger      Ledger
	FSM         state.StateMachine
	Keyboard    *keyboard.Builder
	I18n        *i18n.Manager
	Jobs        jobs.Manager
	Idempotency idempotency.Manager
	BotUsername string
	Currency    string
	IsAdmin     func(id int64) bool
	Log         *slog.Logger
}

// Chat implements the bot's commands, callbacks and conversation steps.
type Chat struct {
	Deps
}

// NewChat fills defaults for optional dependencies.
func NewChat(deps Deps) *Chat {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Keyboard == nil {
		deps.Keyboard = keyboard.NewBuilder(deps.Log)
	}
	return &Chat{Deps: deps}
}

// Translator picks the sender's language.
func (d *Deps) Translator(c telebot.Context) i18n.Translator {
	lang := ""
	if c != nil && c.Sender() != nil {
		lang = c.Sender().LanguageCode
	}
	return d.I18n.Translator(lang)
}

// Text renders key in the sender's language. The currency symbol is
// always available as {{.Currency}}.
func (d *Deps) Text(c telebot.Context, key string, vars i18n.Vars) string {
	all := i18n.Vars{"Currency": d.Currency}
	for k, v := range vars {
		all[k] = v
	}
	return i18n.Render(d.Translator(c), key, all)
}

func (d *Deps) isAdmin(id int64) bool {
	return d.IsAdmin != nil && d.IsAdmin(id)
}

// enqueue schedules a notification. Failures are logged and never reach
// the user: the ledger write already happened.
func (d *Deps) enqueue(ctx context.Context, task *asynq.Task, err error) {
	if err != nil {
		d.Log.ErrorContext(ctx, "build task", slog.Any("error", err))
		return
	}
	if d.Jobs == nil || task == nil {
		return
	}
	if _, err := d.Jobs.Enqueue(ctx, task); err != nil {
		d.Log.ErrorContext(ctx, "enqueue task", slog.String("type", task.Type()), slog.Any("error", err))
	}
}

// currentUser loads the sender's account. A nil user with a nil error
// means the sender has not registered yet; the caller was already told.
func (d *Deps) currentUser(c telebot.Context) (*domain.User, error) {
	if c.Sender() == nil {
		return nil, nil
	}

	user, found, err := d.Ledger.GetUser(Ctx(c), c.Sender().ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, c.Send(d.Text(c, "errors.not_registered", nil))
	}
	if !user.Active {
		return nil, c.Send(d.Text(c, "welcome.inactive", nil))
	}
	return user, nil
}

// reply edits the message behind a callback and sends a new one otherwise.
func reply(c telebot.Context, text string, opts ...interface{}) error {
	if c.Callback() != nil {
		_ = c.Respond()
		if c.Callback().Message != nil {
			return c.Edit(text, opts...)
		}
	}
	return c.Send(text, opts...)
}
