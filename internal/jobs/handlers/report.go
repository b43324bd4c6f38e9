package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
)

// StatsSource provides ledger totals.
type StatsSource interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// DailyReportHandler sends the ledger totals to admins.
type DailyReportHandler struct {
	stats    StatsSource
	notifier Notifier
	t        i18n.Translator
	currency string
	log      *slog.Logger
}

func NewDailyReportHandler(stats StatsSource, notifier Notifier, t i18n.Translator, currency string, log *slog.Logger) *DailyReportHandler {
	if log == nil {
		log = slog.Default()
	}

	return &DailyReportHandler{
		stats:    stats,
		notifier: notifier,
		t:        t,
		currency: currency,
		log:      log,
	}
}

func (h *DailyReportHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	stats, err := h.stats.Stats(ctx)
	if err != nil {
		return fmt.Errorf("daily report: load stats: %w", err)
	}

	text := i18n.Render(h.t, "notify.daily_report", i18n.Vars{
		"Stats": RenderStats(h.t, h.currency, stats),
	})

	if err := h.notifier.NotifyAdmins(ctx, text); err != nil {
		return fmt.Errorf("daily report: notify admins: %w", err)
	}

	h.log.InfoContext(ctx, "daily report sent",
		slog.Int64("users", stats.TotalUsers),
		slog.Int64("pending_withdrawals", stats.PendingWithdrawals),
	)
	return nil
}
