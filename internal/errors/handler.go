package errors

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/pkg/logger"
)

// Reporter forwards an error to an error tracker.
type Reporter interface {
	Report(ctx context.Context, err error, appErr *AppError)
}

// SentryReporter captures errors on the current Sentry hub.
type SentryReporter struct{}

// Report implements Reporter.
func (SentryReporter) Report(ctx context.Context, err error, appErr *AppError) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}
		scope.SetTag("code", appErr.Code)
		scope.SetTag("severity", string(appErr.Severity))
		hub.CaptureException(err)
	})
}

// Handler logs handler errors, reports severe ones and picks the message
// shown to the user.
type Handler struct {
	log      *slog.Logger
	reporter Reporter
}

// NewHandler returns a Handler. A nil reporter disables reporting.
func NewHandler(log *slog.Logger, reporter Reporter) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, reporter: reporter}
}

// Handle returns the user-facing message for err and whether trying
// again may help. Errors of high or critical severity are reported.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	appErr := Classify(err)
	if appErr == nil {
		return "", false
	}

	level := slog.LevelError
	if appErr.Severity == SeverityLow {
		level = slog.LevelWarn
	}
	h.log.LogAttrs(ctx, level, "handler error",
		slog.String("code", appErr.Code),
		slog.String("message", appErr.Message),
		slog.String("kind", ledger.Kind(err)),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	)

	if h.reporter != nil && (appErr.Severity == SeverityHigh || appErr.Severity == SeverityCritical) {
		h.reporter.Report(ctx, err, appErr)
	}

	msg := appErr.UserMessage
	if msg == "" {
		msg = defaultUserMessage
	}
	return msg, appErr.Retryable
}
