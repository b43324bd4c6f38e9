package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/earnyha-bot/internal/domain"
	"github.com/Proton-105/earnyha-bot/pkg/money"
)

var (
	ledgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations labeled by operation and result",
		},
		[]string{"operation", "result"},
	)
	ledgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	referralBonusPaid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_referral_bonus_paid_total",
			Help: "Sum of referral bonuses credited, in major currency units",
		},
	)
	withdrawalsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_withdrawals_requested_total",
			Help: "Sum of withdrawal amounts requested, in major currency units",
		},
	)
	usersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_users",
			Help: "Registered users",
		},
	)
	pendingWithdrawals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_pending_withdrawals",
			Help: "Withdrawal requests waiting for an administrator",
		},
	)
	outstandingBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_outstanding_balance",
			Help: "Sum of user balances, in major currency units",
		},
	)
)

// RecordLedgerOperation counts a ledger call and its latency.
func RecordLedgerOperation(operation, result string, duration time.Duration) {
	ledgerOperationsTotal.WithLabelValues(operation, result).Inc()
	ledgerOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddReferralBonus records a credited referral bonus.
func AddReferralBonus(amount money.Amount) {
	referralBonusPaid.Add(amount.Decimal().InexactFloat64())
}

// AddWithdrawalRequested records the amount of a new withdrawal request.
func AddWithdrawalRequested(amount money.Amount) {
	withdrawalsRequested.Add(amount.Decimal().InexactFloat64())
}

// StatsSource provides ledger aggregates.
type StatsSource interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// LedgerCollector periodically publishes ledger aggregates as gauges.
type LedgerCollector struct {
	source   StatsSource
	interval time.Duration
}

// NewLedgerCollector builds a collector polling source every interval.
func NewLedgerCollector(source StatsSource, interval time.Duration) *LedgerCollector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &LedgerCollector{source: source, interval: interval}
}

// Run polls the ledger until ctx is cancelled.
func (c *LedgerCollector) Run(ctx context.Context) {
	if c == nil || c.source == nil {
		return
	}
	poll(ctx, c.interval, c.collect)
}

func (c *LedgerCollector) collect(ctx context.Context) error {
	stats, err := c.source.Stats(ctx)
	if err != nil {
		return err
	}

	usersTotal.Set(float64(stats.TotalUsers))
	pendingWithdrawals.Set(float64(stats.PendingWithdrawals))
	outstandingBalance.Set(stats.TotalBalance.Decimal().InexactFloat64())
	return nil
}
