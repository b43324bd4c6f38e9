package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/internal/ratelimit"
	"github.com/Proton-105/earnyha-bot/pkg/config"
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

func message(userID int64, msgID int, text string) *fakeContext {
	return &fakeContext{
		sender:  &telebot.User{ID: userID, LanguageCode: "en"},
		message: &telebot.Message{ID: msgID, Text: text, Chat: &telebot.Chat{ID: userID}},
		store:   map[string]interface{}{},
	}
}

func callback(userID int64, id, data string) *fakeContext {
	return &fakeContext{
		sender:   &telebot.User{ID: userID, LanguageCode: "en"},
		callback: &telebot.Callback{ID: id, Data: data, Message: &telebot.Message{ID: 1, Chat: &telebot.Chat{ID: userID}}},
		store:    map[string]interface{}{},
	}
}

func (f *fakeContext) Sender() *telebot.User       { return f.sender }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }
func (f *fakeContext) Get(key string) interface{}  { return f.store[key] }

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

func (f *fakeContext) Send(what interface{}, _ ...interface{}) error {
	f.sent = append(f.sent, what.(string))
	return nil
}

func (f *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	f.responses = append(f.responses, resp...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandLabel(t *testing.T) {
	tests := []struct {
		name string
		ctx  telebot.Context
		want string
	}{
		{"command", message(1, 1, "/withdraw 50 UPI me@upi"), "/withdraw"},
		{"command with bot name", message(1, 1, "/Start@earnyha_bot REF00001"), "/start"},
		{"free text", message(1, 1, "my upi id"), "text"},
		{"callback", callback(1, "1", "admin_users:2"), "admin_users"},
		{"empty", message(1, 1, ""), "unknown"},
		{"nil", nil, "unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CommandLabel(tc.ctx))
		})
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "low", outcome(fmt.Errorf("withdraw: %w", ledger.ErrInsufficientBalance)))
	assert.Equal(t, "high", outcome(errors.New("boom")))
}

func newRateLimit(t *testing.T, cfg config.RateLimitConfig) *RateLimitMiddleware {
	t.Helper()

	translations, err := i18n.Load("en")
	require.NoError(t, err)

	return NewRateLimitMiddleware(ratelimit.NewMemoryLimiter(discardLogger()), ratelimit.NewRules(cfg), translations, discardLogger())
}

func TestRateLimit_PerUserAndCommand(t *testing.T) {
	mw := newRateLimit(t, config.RateLimitConfig{
		Enabled: true,
		PerUser: config.RateLimitRule{Limit: 5, Window: "1m"},
		Commands: map[string]config.RateLimitRule{
			"withdraw": {Limit: 1, Window: "1m"},
		},
		Whitelist: []int64{99},
	})

	calls := 0
	handler := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, handler(message(1, 1, "/withdraw")))
	blocked := message(1, 2, "/withdraw 50 UPI x")
	require.NoError(t, handler(blocked))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"Too many requests. Please slow down."}, blocked.sent)

	// other commands only count against the per-user rule
	// the rejected /withdraw still used a per-user slot
	for i := 0; i < 3; i++ {
		require.NoError(t, handler(message(1, 10+i, "/balance")))
	}
	assert.Equal(t, 4, calls)

	require.NoError(t, handler(message(1, 20, "/balance")))
	assert.Equal(t, 4, calls)

	// other users and whitelisted users are unaffected
	require.NoError(t, handler(message(2, 1, "/withdraw")))
	for i := 0; i < 10; i++ {
		require.NoError(t, handler(message(99, i, "/withdraw")))
	}
	assert.Equal(t, 15, calls)

	cb := callback(1, "cb", "balance")
	require.NoError(t, handler(cb))
	require.Len(t, cb.responses, 1)
	assert.True(t, cb.responses[0].ShowAlert)
}

func TestRateLimit_DisabledAndReloaded(t *testing.T) {
	rules := config.RateLimitConfig{
		Enabled: false,
		PerUser: config.RateLimitRule{Limit: 1, Window: "1m"},
	}
	mw := newRateLimit(t, rules)

	calls := 0
	handler := mw.Handle(func(telebot.Context) error {
		calls++
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, handler(message(1, i, "/balance")))
	}
	assert.Equal(t, 3, calls)

	rules.Enabled = true
	mw.rules.Update(rules)

	require.NoError(t, handler(message(1, 10, "/balance")))
	require.NoError(t, handler(message(1, 11, "/balance")))
	assert.Equal(t, 4, calls)
}

func TestIdempotency_DropsReplayedUpdates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	manager := idempotency.NewManager(idempotency.NewRedisStore(client, discardLogger()), discardLogger())

	calls := 0
	handler := Idempotency(manager, discardLogger())(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, handler(message(1, 7, "/balance")))
	require.NoError(t, handler(message(1, 7, "/balance")))
	require.NoError(t, handler(message(1, 8, "/balance")))
	require.NoError(t, handler(callback(1, "abc", "balance")))
	require.NoError(t, handler(callback(1, "abc", "balance")))

	assert.Equal(t, 3, calls)
}

func TestIdempotency_NilManagerPassesThrough(t *testing.T) {
	calls := 0
	handler := Idempotency(nil, nil)(func(telebot.Context) error {
		calls++
		return nil
	})

	require.NoError(t, handler(message(1, 7, "/balance")))
	require.NoError(t, handler(message(1, 7, "/balance")))
	assert.Equal(t, 2, calls)
}

func TestUpdateKey(t *testing.T) {
	assert.Empty(t, UpdateKey(nil))
	assert.NotEqual(t, UpdateKey(message(1, 1, "a")), UpdateKey(message(2, 1, "a")))
	assert.Equal(t, UpdateKey(message(1, 1, "a")), UpdateKey(message(1, 1, "b")))
	assert.NotEqual(t, UpdateKey(callback(1, "x", "a")), UpdateKey(callback(1, "y", "a")))
}

func TestHTTPLogging(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := New(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
	assert.Equal(t, "done", rec.Body.String())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/readyz", entry["path"])
	assert.EqualValues(t, http.StatusCreated, entry["status"])
	assert.EqualValues(t, 4, entry["bytes"])
}
