package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/earnyha-bot/internal/bot"
	"github.com/Proton-105/earnyha-bot/internal/bot/handlers"
	"github.com/Proton-105/earnyha-bot/internal/database"
	"github.com/Proton-105/earnyha-bot/internal/health"
	"github.com/Proton-105/earnyha-bot/internal/i18n"
	"github.com/Proton-105/earnyha-bot/internal/idempotency"
	"github.com/Proton-105/earnyha-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/earnyha-bot/internal/jobs/handlers"
	"github.com/Proton-105/earnyha-bot/internal/ledger"
	"github.com/Proton-105/earnyha-bot/internal/lifecycle"
	"github.com/Proton-105/earnyha-bot/internal/middleware"
	"github.com/Proton-105/earnyha-bot/internal/ratelimit"
	"github.com/Proton-105/earnyha-bot/internal/repository"
	"github.com/Proton-105/earnyha-bot/internal/state"
	"github.com/Proton-105/earnyha-bot/internal/usercache"
	"github.com/Proton-105/earnyha-bot/pkg/config"
	"github.com/Proton-105/earnyha-bot/pkg/graceful"
	"github.com/Proton-105/earnyha-bot/pkg/logger"
	"github.com/Proton-105/earnyha-bot/pkg/metrics"
	appredis "github.com/Proton-105/earnyha-bot/pkg/redis"
)

const (
	defaultLanguage       = "en"
	ledgerMetricsInterval = time.Minute
	stateMetricsInterval  = 10 * time.Second
	cleanerInterval       = 5 * time.Minute
	idempotencyMaxTTL     = 25 * time.Hour
	rateLimitMaxWindow    = time.Hour
)

func main() {
	if err := run(); err != nil {
		slog.Error("earnyha bot stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		environment := cfg.Sentry.Environment
		if environment == "" {
			environment = cfg.AppEnv
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      environment,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting earnyha bot",
		slog.String("mode", cfg.Bot.Mode),
		slog.String("database", cfg.Database.Driver),
		slog.String("http_port", cfg.Server.Port),
	)

	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	applied, err := database.NewMigrator(db, dialect, log).Migrate(ctx)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied", slog.Int("applied", applied))

	rdb, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("connect redis: %w", err)
	}

	ledgerCfg, err := ledger.ConfigFrom(cfg.Ledger)
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return fmt.Errorf("ledger config: %w", err)
	}

	accounts := ledger.New(
		repository.NewLedgerRepository(db, dialect),
		ledgerCfg,
		ledger.WithCache(usercache.NewCache(rdb.Client, cfg.Cache.UserTTL, log)),
	)

	stateStorage := state.NewRedisStorage(rdb.Client, log, cfg.State.TTL)
	fsm := state.NewStateMachine(stateStorage, log,
		state.WithLocker(state.NewRedisLocker(rdb.Client, state.DefaultLockTTL, log)),
		state.WithObserver(func(from, to state.State) {
			metrics.RecordStateTransition(string(from), string(to))
		}),
	)

	translations, err := i18n.Load(defaultLanguage)
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return fmt.Errorf("load translations: %w", err)
	}

	rules := &ratelimit.Rules{}
	if err := rules.Update(cfg.RateLimit); err != nil {
		log.Warn("rate limit rules skipped", slog.Any("error", err))
	}
	memLimiter := ratelimit.NewMemoryLimiter(log)
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memLimiter, log)
	config.WatchRateLimits(v, func(rl config.RateLimitConfig) {
		if err := rules.Update(rl); err != nil {
			log.Warn("rate limit rules skipped", slog.Any("error", err))
		}
		log.Info("rate limits reloaded", slog.Bool("enabled", rl.Enabled))
	}, func(err error) {
		log.Warn("rate limit reload failed", slog.Any("error", err))
	})

	jobsClient := jobs.NewManager(rdb.AsynqOpt(), log)

	b, err := bot.New(*cfg, log, handlers.Deps{
		Ledger:      accounts,
		FSM:         fsm,
		I18n:        translations,
		Jobs:        jobsClient,
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log),
		Currency:    cfg.Ledger.CurrencySymbol,
		IsAdmin:     cfg.Bot.IsAdmin,
		Log:         log,
	}, middleware.NewRateLimitMiddleware(limiter, rules, translations, log))
	if err != nil {
		_ = jobsClient.Close()
		_ = rdb.Close()
		_ = db.Close()
		return fmt.Errorf("create bot: %w", err)
	}

	adminText := translations.Translator(defaultLanguage)
	notifications := jobhandlers.NewNotificationHandler(b, adminText, cfg.Ledger.CurrencySymbol, log)

	worker := jobs.NewWorker(rdb.AsynqOpt(), jobs.Queues, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeWithdrawalCreated, asynq.HandlerFunc(notifications.WithdrawalCreated))
	worker.RegisterHandler(jobs.TaskTypeWithdrawalStatus, asynq.HandlerFunc(notifications.WithdrawalStatus))
	worker.RegisterHandler(jobs.TaskTypeReferralBonus, asynq.HandlerFunc(notifications.ReferralBonus))
	worker.RegisterHandler(jobs.TaskTypeDailyReport,
		jobhandlers.NewDailyReportHandler(accounts, b, adminText, cfg.Ledger.CurrencySymbol, log))
	if err := worker.Start(); err != nil {
		_ = jobsClient.Close()
		_ = rdb.Close()
		_ = db.Close()
		return fmt.Errorf("start jobs worker: %w", err)
	}

	scheduler, err := jobs.NewScheduler(rdb.AsynqOpt(), jobs.PeriodicTasks(cfg.Jobs.ReportCron), log)
	if err == nil {
		err = scheduler.Start()
	}
	if err != nil {
		// the bot works without periodic reports
		log.Error("scheduler not started", slog.Any("error", err))
		scheduler = nil
	}

	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewDBChecker(accounts))
	checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))
	endpoints := lifecycle.NewHealthEndpoints(checker, log)

	mux := http.NewServeMux()
	mux.Handle("/healthz", lifecycle.LivenessHandler(endpoints))
	mux.Handle("/readyz", lifecycle.ReadinessHandler(endpoints))
	mux.Handle("/metrics", promhttp.Handler())

	server := graceful.NewServer(log, listenAddr(cfg.Server.Port), logger.Middleware(middleware.New(log)(mux)), cfg.Server.ShutdownTimeout)
	serverCtx, stopServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() { serverDone <- server.ListenAndServe(serverCtx) }()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	go state.NewCleaner(stateStorage, log, cfg.State.TTL, cfg.State.CleanupInterval).Run(bgCtx)
	go idempotency.NewCleaner(rdb.Client, log, cleanerInterval, idempotencyMaxTTL).Run(bgCtx)
	go ratelimit.NewCleaner(rdb.Client, log, cleanerInterval, rateLimitMaxWindow).Run(bgCtx)
	go memLimiter.Run(bgCtx, cleanerInterval, rateLimitMaxWindow)
	go metrics.NewStateCollector(fsm.Census, state.StateIdle, stateMetricsInterval).Run(bgCtx)
	go metrics.NewLedgerCollector(accounts, ledgerMetricsInterval).Run(bgCtx)

	go b.Start()
	log.Info("earnyha bot started", slog.String("username", b.Telebot().Me.Username))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-serverDone:
		log.Error("http server stopped unexpectedly", slog.Any("error", runErr))
		serverDone <- nil
	}

	shutdown := lifecycle.NewShutdown(log)
	shutdown.RegisterPhase(lifecycle.PhaseStopIntake, "telegram", func(context.Context) error {
		b.Stop()
		return nil
	})
	shutdown.RegisterPhase(lifecycle.PhaseStopIntake, "scheduler", func(context.Context) error {
		if scheduler != nil {
			scheduler.Shutdown()
		}
		return nil
	})
	shutdown.RegisterPhase(lifecycle.PhaseStopIntake, "background", func(context.Context) error {
		stopBackground()
		return nil
	})
	shutdown.RegisterPhase(lifecycle.PhaseDrain, "worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.RegisterPhase(lifecycle.PhaseDrain, "http", func(ctx context.Context) error {
		stopServer()
		select {
		case err := <-serverDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterPhase(lifecycle.PhaseDrain, "jobs client", func(context.Context) error {
		return jobsClient.Close()
	})
	shutdown.RegisterPhase(lifecycle.PhaseRelease, "redis", func(context.Context) error {
		return rdb.Close()
	})
	shutdown.RegisterPhase(lifecycle.PhaseRelease, "database", func(context.Context) error {
		return db.Close()
	})
	if cfg.Sentry.Enabled {
		shutdown.RegisterPhase(lifecycle.PhaseRelease, "sentry", func(context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
		if runErr == nil {
			runErr = err
		}
	}

	log.Info("earnyha bot stopped")
	return runErr
}

func listenAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}
