package handlers

import (
	"context"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// Keys stored on telebot.Context by the router and its middlewares.
const (
	ContextKey      = "ctx"
	CallbackDataKey = "callback_data"
)

// Ctx returns the request context attached to the update, falling back to
// context.Background for updates that bypassed the middleware chain.
func Ctx(c telebot.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if ctx, ok := c.Get(ContextKey).(context.Context); ok && ctx != nil {
		return ctx
	}
	return context.Background()
}

// CallbackData returns the payload that followed the callback identifier.
func CallbackData(c telebot.Context) string {
	if c == nil {
		return ""
	}
	data, _ := c.Get(CallbackDataKey).(string)
	return data
}

// Ledger is the subset of the ledger used by chat handlers.
type Ledger interface {
	Config() ledger.Config
	RegisterUser(ctx context.Context, in ledger.Registration) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, bool, error)
	CreateWithdrawal(ctx context.Context, req ledger.WithdrawalRequest) (*domain.Withdrawal, error)
	ProcessWithdrawal(ctx context.Context, id int64, status domain.WithdrawalStatus) (*domain.Withdrawal, error)
	SetActive(ctx context.Context, id int64, active bool) error
	ListAllUsers(ctx context.Context) ([]domain.User, error)
	ListPendingWithdrawals(ctx context.Context) ([]domain.PendingWithdrawal, error)
	Stats(ctx context.Context) (domain.Stats, error)
}
