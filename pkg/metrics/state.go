package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "state_transitions_total",
		Help: "Accepted conversation state transitions",
	}, []string{"from", "to"})

	conversationsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversations_active",
		Help: "Users inside a multi-step conversation",
	})

	usersByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "users_by_state",
		Help: "Users per conversation state",
	}, []string{"state"})
)

// RecordStateTransition counts one accepted transition.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(label(from), label(to)).Inc()
}

// StateCollector publishes how many users sit in each conversation state.
type StateCollector struct {
	census   func(context.Context) (map[string]int, error)
	idle     string
	interval time.Duration
}

// NewStateCollector polls census every interval. Users outside the idle
// state count as active conversations.
func NewStateCollector[S ~string](census func(context.Context) (map[S]int, error), idle S, interval time.Duration) *StateCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &StateCollector{
		census: func(ctx context.Context) (map[string]int, error) {
			counts, err := census(ctx)
			if err != nil {
				return nil, err
			}
			out := make(map[string]int, len(counts))
			for s, n := range counts {
				out[string(s)] += n
			}
			return out, nil
		},
		idle:     string(idle),
		interval: interval,
	}
}

// Run polls until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.census == nil {
		return
	}
	poll(ctx, c.interval, c.collect)
}

func (c *StateCollector) collect(ctx context.Context) error {
	counts, err := c.census(ctx)
	if err != nil {
		return err
	}

	active := 0
	usersByState.Reset()
	for s, n := range counts {
		usersByState.WithLabelValues(label(s)).Set(float64(n))
		if s != c.idle {
			active += n
		}
	}
	conversationsActive.Set(float64(active))
	return nil
}

// poll runs collect immediately and then every interval until ctx ends.
// Collection errors are dropped; the gauges keep their last values.
func poll(ctx context.Context, interval time.Duration, collect func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
