// Package metrics exposes the bot's Prometheus instruments. Everything
// registers with the default registry, which /metrics serves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_commands_total",
		Help: "Handled updates by command and outcome",
	}, []string{"command", "status"})

	updateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "Time spent handling an update",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"command"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Errors by source and severity",
	}, []string{"type", "severity"})
)

// label keeps empty values out of label sets.
func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RecordCommand counts one handled update and its latency.
func RecordCommand(command, status string, duration time.Duration) {
	command = label(command)
	updatesTotal.WithLabelValues(command, label(status)).Inc()
	updateDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordError counts one error.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(label(errType), label(severity)).Inc()
}

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_tasks_total",
		Help: "Processed background tasks by type and outcome",
	}, []string{"task_type", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_task_duration_seconds",
		Help:    "Time spent processing a background task",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"task_type"})
)

// RecordTask counts one processed background task and its latency.
func RecordTask(taskType, status string, duration time.Duration) {
	taskType = label(taskType)
	tasksTotal.WithLabelValues(taskType, label(status)).Inc()
	taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}
