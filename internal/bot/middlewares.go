package bot

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	errors "github.com/Proton-105/earnyha-bot/internal/errors"
	"github.com/Proton-105/earnyha-bot/internal/middleware"
	"github.com/Proton-105/earnyha-bot/pkg/logger"
	"github.com/Proton-105/earnyha-bot/pkg/metrics"
)

const fallbackUserMessage = "Something went wrong. Please try again later."

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *errors.Handler) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				ctx := handlers.Ctx(c)
				log.ErrorContext(ctx, "panic recovered in handler", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				metrics.RecordError("panic", string(errors.SeverityCritical))

				userMsg := fallbackUserMessage
				if errHandler != nil {
					if msg, _ := errHandler.Handle(ctx, fmt.Errorf("panic recovered: %v", r)); msg != "" {
						userMsg = msg
					}
				}

				if c != nil {
					if sendErr := notify(c, userMsg); sendErr != nil {
						log.ErrorContext(ctx, "failed to notify user about panic", slog.Any("error", sendErr))
					}
				}

				err = nil
			}()

			return next(c)
		}
	}
}

// CorrelationMiddleware attaches a request context carrying a fresh
// correlation id to the update.
func CorrelationMiddleware() handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			if c != nil {
				c.Set(handlers.ContextKey, logger.WithCorrelationID(handlers.Ctx(c), uuid.NewString()))
			}
			return next(c)
		}
	}
}

// ErrorHandlingMiddleware centralizes error reporting and user messaging for handler failures.
func ErrorHandlingMiddleware(errHandler *errors.Handler) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			metrics.RecordError("handler", string(errors.Classify(err).Severity))

			userMsg := fallbackUserMessage
			if errHandler != nil {
				if msg, _ := errHandler.Handle(handlers.Ctx(c), err); msg != "" {
					userMsg = msg
				}
			}

			if c != nil {
				_ = notify(c, userMsg)
			}

			return nil
		}
	}
}

// LoggingMiddleware logs basic telemetry about incoming updates.
func LoggingMiddleware(log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if next == nil {
			return nil
		}

		return func(c telebot.Context) error {
			start := time.Now()
			ctx := handlers.Ctx(c)

			userID := int64(0)
			if c != nil && c.Sender() != nil {
				userID = c.Sender().ID
			}
			action := middleware.CommandLabel(c)

			log.DebugContext(ctx, "handling update", slog.Int64("user_id", userID), slog.String("action", action))
			err := next(c)

			level := slog.LevelInfo
			if err != nil {
				level = slog.LevelWarn
			}
			log.LogAttrs(ctx, level, "handled update",
				slog.Int64("user_id", userID),
				slog.String("action", action),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)

			return err
		}
	}
}

// notify answers a callback with an alert and anything else with a message.
func notify(c telebot.Context, text string) error {
	if c.Callback() != nil {
		return c.Respond(&telebot.CallbackResponse{Text: text, ShowAlert: true})
	}
	return c.Send(text)
}
