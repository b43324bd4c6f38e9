package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Periodic is a task enqueued on a cron schedule.
type Periodic struct {
	Name string
	Cron string
	Task *asynq.Task
}

// Scheduler enqueues periodic tasks. Every bot instance may run one;
// asynq deduplicates the enqueues through Redis.
type Scheduler struct {
	inner *asynq.Scheduler
	log   *slog.Logger
}

// PeriodicTasks returns the schedule derived from configuration. An empty
// reportCron disables the daily report.
func PeriodicTasks(reportCron string) []Periodic {
	if reportCron == "" {
		return nil
	}
	return []Periodic{{Name: "daily_report", Cron: reportCron, Task: NewDailyReportTask()}}
}

// NewScheduler registers tasks on a new scheduler. Cron specs are read in
// UTC.
func NewScheduler(redisOpt asynq.RedisConnOpt, tasks []Periodic, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "scheduler"))

	inner := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   newAsynqLogger(log),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Error("periodic task enqueue failed", slog.Any("error", err))
				return
			}
			log.Info("periodic task enqueued", slog.String("task_type", info.Type), slog.String("task_id", info.ID))
		},
	})

	for _, p := range tasks {
		if _, err := inner.Register(p.Cron, p.Task); err != nil {
			return nil, fmt.Errorf("register %s (%q): %w", p.Name, p.Cron, err)
		}
		log.Info("periodic task registered", slog.String("name", p.Name), slog.String("cron", p.Cron))
	}

	return &Scheduler{inner: inner, log: log}, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() error {
	return s.inner.Start()
}

// Shutdown stops scheduling; tasks already enqueued are unaffected.
func (s *Scheduler) Shutdown() {
	s.inner.Shutdown()
	s.log.Info("scheduler stopped")
}
