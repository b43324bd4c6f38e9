package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/state"
)

type fakeContext struct {
	telebot.Context

	sender    *telebot.User
	message   *telebot.Message
	callback  *telebot.Callback
	store     map[string]interface{}
	sent      []string
	responses []*telebot.CallbackResponse
}

func textUpdate(userID int64, msgID int, text string) *fakeContext {
	msg := &telebot.Message{ID: msgID, Text: text, Chat: &telebot.Chat{ID: userID}}
	if strings.HasPrefix(text, "/") {
		if i := strings.IndexByte(text, ' '); i > 0 {
			msg.Payload = strings.TrimSpace(text[i+1:])
		}
	}
	return &fakeContext{
		sender:  &telebot.User{ID: userID, FirstName: fmt.Sprintf("User%d", userID), LanguageCode: "en"},
		message: msg,
		store:   map[string]interface{}{},
	}
}

func callbackUpdate(userID int64, id, data string) *fakeContext {
	msg := &telebot.Message{ID: 99, Chat: &telebot.Chat{ID: userID}}
	return &fakeContext{
		sender:   &telebot.User{ID: userID, FirstName: fmt.Sprintf("User%d", userID), LanguageCode: "en"},
		callback: &telebot.Callback{ID: id, Data: data, Message: msg},
		store:    map[string]interface{}{},
	}
}

func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Get(key string) interface{}  { return f.store[key] }
func (f *fakeContext) Set(key string, v interface{}) {
	f.store[key] = v
}

func (f *fakeContext) Message() *telebot.Message {
	if f.callback != nil {
		return f.callback.Message
	}
	return f.message
}

func (f *fakeContext) Text() string {
	if f.message == nil {
		return ""
	}
	return f.message.Text
}

func (f *fakeContext) Args() []string {
	if f.message == nil || f.message.Payload == "" {
		return nil
	}
	return strings.Fields(f.message.Payload)
}

func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	return nil
}

func (f *fakeContext) Edit(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

func (f *fakeContext) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"/start":                     "/start",
		"/Start REF00001":            "/start",
		"/withdraw@earnyha_bot 50 x": "/withdraw",
		"/help\nmore":                "/help",
	}

	for in, want := range tests {
		assert.Equal(t, want, commandName(in), in)
	}
}

type routerFixture struct {
	router *Router
	fsm    state.StateMachine
	calls  []string
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	f := &routerFixture{fsm: state.NewStateMachine(state.NewMemoryStorage(), discardLogger())}
	record := func(name string) handlers.Handler {
		return func(c telebot.Context) error {
			f.calls = append(f.calls, name+":"+handlers.CallbackData(c))
			return nil
		}
	}

	dispatcher := NewDispatcher(f.fsm, discardLogger())
	dispatcher.RegisterStateHandler(state.StateWithdrawAmount, record("amount"))

	f.router = NewRouter(dispatcher, discardLogger())
	f.router.RegisterCommand(CommandStart, record("start"))
	f.router.RegisterCallback("admin_users", handlers.CallbackHandler(record("users")))
	f.router.SetDefault(record("default"))
	return f
}

func TestRouter_Commands(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.router.Route(textUpdate(1, 1, "/start")))
	require.NoError(t, f.router.Route(textUpdate(1, 2, "/START@earnyha_bot REF1")))
	require.NoError(t, f.router.Route(textUpdate(1, 3, "/nope")))

	assert.Equal(t, []string{"start:", "start:", "default:"}, f.calls)
}

func TestRouter_Callbacks(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.router.Route(callbackUpdate(1, "a", "admin_users:3")))
	assert.Equal(t, []string{"users:3"}, f.calls)

	unknown := callbackUpdate(1, "b", "something_else")
	require.NoError(t, f.router.Route(unknown))
	assert.Len(t, f.calls, 1)
	assert.Len(t, unknown.responses, 0)
}

func TestRouter_StateDispatch(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.Route(textUpdate(1, 1, "50")))
	assert.Equal(t, []string{"default:"}, f.calls)

	require.NoError(t, f.fsm.SetState(ctx, 1, state.StateWithdrawAmount, nil))
	require.NoError(t, f.router.Route(textUpdate(1, 2, "50")))
	assert.Equal(t, []string{"default:", "amount:"}, f.calls)

	// commands win over the conversation step
	require.NoError(t, f.router.Route(textUpdate(1, 3, "/start")))
	assert.Equal(t, "start:", f.calls[2])

	// states without a handler fall back to the default
	require.NoError(t, f.fsm.SetState(ctx, 1, state.StateWithdrawMethod, nil))
	require.NoError(t, f.router.Route(textUpdate(1, 4, "UPI")))
	assert.Equal(t, "default:", f.calls[3])
}

func TestRouter_MiddlewareOrder(t *testing.T) {
	f := newRouterFixture(t)

	var order []string
	mw := func(name string) handlers.Middleware {
		return func(next handlers.Handler) handlers.Handler {
			return func(c telebot.Context) error {
				order = append(order, name)
				return next(c)
			}
		}
	}
	f.router.Use(mw("first"))
	f.router.Use(mw("second"))

	require.NoError(t, f.router.Route(textUpdate(1, 1, "/start")))
	assert.Equal(t, []string{"first", "second"}, order)
}
