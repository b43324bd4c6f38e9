package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/database"
	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/internal/repository"
	"github.com/Proton-105/earnyha-bot/internal/state"
	"github.com/Proton-105/earnyha-bot/pkg/config"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

const adminID int64 = 1

// fakeContext records what handlers send. Methods it does not override
// panic through the nil embedded interface.
type fakeContext struct {
	telebot.Context

	sender   *telebot.User
	message  *telebot.Message
	callback *telebot.Callback
	store    map[string]interface{}

	sent      []string
	edited    []string
	outbox    []string
	markups   []interface{}
	responses []*telebot.CallbackResponse
}

func newMessage(userID int64, text string) *fakeContext {
	msg := &telebot.Message{ID: 10, Text: text, Chat: &telebot.Chat{ID: userID}}
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

func newCallback(userID int64, messageID int, data string) *fakeContext {
	msg := &telebot.Message{ID: messageID, Chat: &telebot.Chat{ID: userID}}
	return &fakeContext{
		sender:   &telebot.User{ID: userID, FirstName: fmt.Sprintf("User%d", userID), LanguageCode: "en"},
		callback: &telebot.Callback{ID: fmt.Sprintf("cb-%d", messageID), Data: data, Message: msg},
		store:    map[string]interface{}{},
	}
}

func (f *fakeContext) Sender() *telebot.User { return f.sender }

func (f *fakeContext) Message() *telebot.Message {
	if f.callback != nil {
		return f.callback.Message
	}
	return f.message
}

func (f *fakeContext) Callback() *telebot.Callback { return f.callback }

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

func (f *fakeContext) Send(what interface{}, opts ...interface{}) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	f.outbox = append(f.outbox, fmt.Sprint(what))
	f.markups = append(f.markups, opts...)
	return nil
}

func (f *fakeContext) Edit(what interface{}, opts ...interface{}) error {
	f.edited = append(f.edited, fmt.Sprint(what))
	f.outbox = append(f.outbox, fmt.Sprint(what))
	f.markups = append(f.markups, opts...)
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

func (f *fakeContext) Get(key string) interface{} { return f.store[key] }

func (f *fakeContext) Set(key string, val interface{}) { f.store[key] = val }

// last returns the most recent outgoing text, sent or edited.
func (f *fakeContext) last() string {
	if len(f.outbox) == 0 {
		return ""
	}
	return f.outbox[len(f.outbox)-1]
}

type fakeJobs struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeJobs) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeJobs) Close() error { return nil }

func (f *fakeJobs) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tasks))
	for _, task := range f.tasks {
		out = append(out, task.Type())
	}
	return out
}

type testEnv struct {
	chat   *Chat
	ledger *ledger.Ledger
	fsm    state.StateMachine
	jobs   *fakeJobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, dialect, err := database.Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "bot.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, dialect, log).Migrate(ctx)
	require.NoError(t, err)

	var seq atomic.Int64
	l := ledger.New(repository.NewLedgerRepository(db, dialect), ledger.Config{
		ReferralBonus: money.MustParse("10"),
		MinWithdrawal: money.MustParse("20"),
	}, ledger.WithCodeGenerator(func(int) (string, error) {
		return fmt.Sprintf("REF%05d", seq.Add(1)), nil
	}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	translations, err := i18n.Load("en")
	require.NoError(t, err)

	fsm := state.NewStateMachine(state.NewMemoryStorage(), log)
	jobs := &fakeJobs{}

	chat := NewChat(Deps{
		Ledger:      l,
		FSM:         fsm,
		I18n:        translations,
		Jobs:        jobs,
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(client, log), log),
		BotUsername: "earnyha_bot",
		Currency:    "₹",
		IsAdmin:     func(id int64) bool { return id == adminID },
		Log:         log,
	})

	return &testEnv{chat: chat, ledger: l, fsm: fsm, jobs: jobs}
}

// register runs /start for id, optionally with a referral code.
func (e *testEnv) register(t *testing.T, id int64, code string) *domain.User {
	t.Helper()

	text := "/start"
	if code != "" {
		text += " " + code
	}
	require.NoError(t, e.chat.Start(newMessage(id, text)))

	user, found, err := e.ledger.GetUser(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	return user
}

// fund gives id a balance of n referral bonuses.
func (e *testEnv) fund(t *testing.T, id int64, n int) *domain.User {
	t.Helper()

	user := e.register(t, id, "")
	for i := 0; i < n; i++ {
		e.register(t, id*1000+int64(i), user.ReferralCode)
	}

	user, _, err := e.ledger.GetUser(context.Background(), id)
	require.NoError(t, err)
	return user
}

func (e *testEnv) currentState(t *testing.T, id int64) state.State {
	t.Helper()

	st, err := e.fsm.GetState(context.Background(), id)
	if err != nil {
		return state.StateIdle
	}
	return st.CurrentState
}
