package bot

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/bot/keyboard"
	errors "github.com/Proton-105/earnyha-bot/internal/errors"
	"github.com/Proton-105/earnyha-bot/internal/middleware"
	"github.com/Proton-105/earnyha-bot/internal/state"
	"github.com/Proton-105/earnyha-bot/pkg/config"
)

// Bot wraps telebot.Bot with the chat handlers and the middleware chain.
// It also delivers background notifications to Telegram.
type Bot struct {
	telebot     *telebot.Bot
	log         *slog.Logger
	cfg         config.Config
	chat        *handlers.Chat
	rateLimitMw *middleware.RateLimitMiddleware
	router      *Router
	dispatcher  *Dispatcher
	errHandler  *errors.Handler
	breaker     *errors.CircuitBreaker
}

// Option adjusts the telebot settings before the bot is created.
type Option func(*telebot.Settings)

// Offline creates the bot without contacting Telegram.
func Offline() Option {
	return func(s *telebot.Settings) {
		s.Offline = true
	}
}

// New builds a telegram bot instance configured according to the application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	deps handlers.Deps,
	rateLimitMw *middleware.RateLimitMiddleware,
	opts ...Option,
) (*Bot, error) {
	if log == nil {
		log = slog.Default()
	}

	settings := telebot.Settings{
		Token: cfg.Bot.Token,
		OnError: func(err error, c telebot.Context) {
			log.Error("telegram update failed", slog.Any("error", err))
		},
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen:   cfg.Bot.ListenAddr,
			Endpoint: &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	for _, opt := range opts {
		opt(&settings)
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	if deps.Log == nil {
		deps.Log = log
	}
	if deps.BotUsername == "" {
		deps.BotUsername = cfg.Bot.Username
		if deps.BotUsername == "" && tb.Me != nil {
			deps.BotUsername = tb.Me.Username
		}
	}
	if deps.IsAdmin == nil {
		deps.IsAdmin = cfg.Bot.IsAdmin
	}

	dispatcher := NewDispatcher(deps.FSM, log)

	b := &Bot{
		telebot:     tb,
		log:         log,
		cfg:         cfg,
		chat:        handlers.NewChat(deps),
		rateLimitMw: rateLimitMw,
		router:      NewRouter(dispatcher, log),
		dispatcher:  dispatcher,
		errHandler:  errors.NewHandler(log, reporter(cfg)),
	}
	b.breaker = errors.NewCircuitBreaker(errors.BreakerSettings{
		Counts: countsAgainstTelegram,
		OnStateChange: func(from, to errors.BreakerState) {
			log.Warn("telegram circuit breaker changed state",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	b.setupRouter()

	if b.rateLimitMw != nil {
		b.telebot.Use(b.rateLimitMw.Handle)
	}

	b.registerTelebotHandlers()

	return b, nil
}

func reporter(cfg config.Config) errors.Reporter {
	if !cfg.Sentry.Enabled {
		return nil
	}
	return errors.SentryReporter{}
}

// countsAgainstTelegram filters out errors caused by the recipient rather
// than by the Bot API being unavailable.
func countsAgainstTelegram(err error) bool {
	for _, userErr := range []error{
		telebot.ErrBlockedByUser,
		telebot.ErrChatNotFound,
		telebot.ErrUserIsDeactivated,
		telebot.ErrNotStartedByUser,
		telebot.ErrKickedFromGroup,
	} {
		if stdErrors.Is(err, userErr) {
			return false
		}
	}
	return true
}

// Start runs the telegram bot event loop. It blocks until Stop is called.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	b.log.Info("stopping telegram bot...")
	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Router exposes the update router.
func (b *Bot) Router() *Router {
	return b.router
}

// NotifyUser sends text to a single chat.
func (b *Bot) NotifyUser(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.breaker.Call(func() error {
		_, err := b.telebot.Send(telebot.ChatID(userID), text)
		return err
	})
	switch {
	case err == nil:
		return nil
	case !countsAgainstTelegram(err):
		return errors.NewRecipientError(err)
	default:
		return errors.NewExternalAPIError("telegram", err)
	}
}

// NotifyAdmins sends text to every configured administrator. Delivery
// continues past individual failures.
func (b *Bot) NotifyAdmins(ctx context.Context, text string) error {
	var errs []error
	for _, id := range b.cfg.Bot.AdminIDs {
		if err := b.NotifyUser(ctx, id, text); err != nil {
			b.log.WarnContext(ctx, "failed to notify admin", slog.Int64("admin_id", id), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("admin %d: %w", id, err))
		}
	}
	return stdErrors.Join(errs...)
}

func (b *Bot) setupRouter() {
	r, chat := b.router, b.chat

	r.Use(RecoveryMiddleware(b.log, b.errHandler))
	r.Use(CorrelationMiddleware())
	r.Use(middleware.Idempotency(chat.Idempotency, b.log))
	r.Use(ErrorHandlingMiddleware(b.errHandler))
	r.Use(LoggingMiddleware(b.log))
	r.Use(middleware.Metrics)

	r.RegisterCommand(CommandStart, chat.Start)
	r.RegisterCommand(CommandMenu, chat.Menu)
	r.RegisterCommand(CommandBalance, chat.Balance)
	r.RegisterCommand(CommandReferrals, chat.Referrals)
	r.RegisterCommand(CommandWithdraw, chat.Withdraw)
	r.RegisterCommand(CommandStats, chat.Stats)
	r.RegisterCommand(CommandCancel, chat.Cancel)
	r.RegisterCommand(CommandHelp, chat.Help)
	r.RegisterCommand(CommandAdmin, chat.Admin)

	r.RegisterCallback(keyboard.CallbackMainMenu, chat.Menu)
	r.RegisterCallback(keyboard.CallbackBalance, chat.Balance)
	r.RegisterCallback(keyboard.CallbackReferrals, chat.Referrals)
	r.RegisterCallback(keyboard.CallbackStats, chat.Stats)
	r.RegisterCallback(keyboard.CallbackWithdraw, chat.WithdrawButton)
	r.RegisterCallback(keyboard.CallbackWithdrawConfirm, chat.ConfirmWithdrawal)
	r.RegisterCallback(keyboard.CallbackWithdrawCancel, chat.CancelWithdrawal)
	r.RegisterCallback(keyboard.CallbackAdminUsers, chat.AdminUsersPage)

	b.dispatcher.RegisterStateHandler(state.StateWithdrawAmount, chat.WithdrawAmount)
	b.dispatcher.RegisterStateHandler(state.StateWithdrawMethod, chat.WithdrawMethod)
	b.dispatcher.RegisterStateHandler(state.StateWithdrawDetails, chat.WithdrawDetails)
	b.dispatcher.RegisterStateHandler(state.StateWithdrawConfirm, chat.WithdrawPending)

	r.SetDefault(chat.Unknown)
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}
