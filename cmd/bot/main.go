package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/questline/questline-bot/internal/access"
	"github.com/questline/questline-bot/internal/achievements"
	"github.com/questline/questline-bot/internal/bot"
	"github.com/questline/questline-bot/internal/database"
	apperrors "github.com/questline/questline-bot/internal/errors"
	"github.com/questline/questline-bot/internal/events"
	"github.com/questline/questline-bot/internal/health"
	"github.com/questline/questline-bot/internal/i18n"
	"github.com/questline/questline-bot/internal/idempotency"
	"github.com/questline/questline-bot/internal/jobs"
	jobhandlers "github.com/questline/questline-bot/internal/jobs/handlers"
	"github.com/questline/questline-bot/internal/ledger"
	"github.com/questline/questline-bot/internal/lifecycle"
	"github.com/questline/questline-bot/internal/middleware"
	"github.com/questline/questline-bot/internal/narrative"
	"github.com/questline/questline-bot/internal/ratelimit"
	"github.com/questline/questline-bot/internal/reconcile"
	"github.com/questline/questline-bot/internal/repository"
	"github.com/questline/questline-bot/internal/user"
	"github.com/questline/questline-bot/internal/usercache"
	"github.com/questline/questline-bot/internal/userlock"
	"github.com/questline/questline-bot/internal/workflow"
	"github.com/questline/questline-bot/pkg/config"
	"github.com/questline/questline-bot/pkg/graceful"
	"github.com/questline/questline-bot/pkg/logger"
	"github.com/questline/questline-bot/pkg/metrics"
	pkgredis "github.com/questline/questline-bot/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(*cfg)
	log.Info("starting questline bot",
		slog.String("env", cfg.AppEnv),
		slog.String("http_port", cfg.Server.Port),
		slog.String("log_level", cfg.Logger.Level),
	)

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, cfg.Database.MigrationsDir); err != nil {
		return err
	}

	redisClient, err := pkgredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	translations, err := i18n.Load("en")
	if err != nil {
		return err
	}

	// Storage layer.
	uow := database.NewUnitOfWork(db)
	contentRepo := narrative.NewSQLContentRepository(db)
	stateRepo := narrative.NewSQLStateRepository()
	ledgerStore := ledger.NewSQLStore()
	unlockStore := achievements.NewSQLStore()
	userRepo := repository.NewUserRepository(log)

	importer := narrative.NewImporter(contentRepo, uow, log)
	if err := importer.ImportDir(ctx, cfg.Narrative.ContentDir); err != nil {
		return err
	}

	registry, err := achievements.LoadRegistry(cfg.Achievements.RegistryPath)
	if err != nil {
		return err
	}

	// Services.
	ledgerSvc := ledger.NewService(ledgerStore, ledgerStore, log)
	unlockSvc := achievements.NewService(registry, unlockStore, log)
	machine := narrative.NewMachine(contentRepo, stateRepo, cfg.Narrative.StartFragmentID, log)
	cache := usercache.NewCache(redisClient.Client)
	userSvc := user.NewService(userRepo, uow, ledgerSvc, cache, cfg.Rewards.InitialGrantAmount, log)
	guard := access.NewGuard(ledgerSvc, uow.DB())

	// Coordination plumbing.
	locker := userlock.New(redisClient.Client, log)
	idemStore := idempotency.NewRedisStore(redisClient.Client, log)
	idemManager := idempotency.NewManager(idemStore, log)
	idemCleaner := idempotency.NewCleaner(redisClient.Client, log, time.Hour)
	bus := events.NewBus(cfg.Events.HistorySize, cfg.Events.HandlerTimeout, log)

	coordinator := workflow.NewCoordinator(
		uow, machine, ledgerSvc, unlockSvc, locker, idemManager, bus,
		workflow.Rewards{
			DailyBonusAmount:  cfg.Rewards.DailyBonusAmount,
			AccessPricePerDay: cfg.Rewards.AccessPricePerDay,
			MaxRedeemableDays: cfg.Rewards.MaxRedeemableDays,
		},
		log,
	)

	achievements.NewSubscriber(unlockSvc, userRepo, uow, bus, log).Register(bus)
	access.NewIssuer(ledgerSvc, userSvc, uow, locker, bus, log).Register(bus)

	// Rate limiting: redis sliding window with in-memory fallback.
	limiter := ratelimit.NewAdaptiveLimiter(
		ratelimit.NewRedisLimiter(redisClient.Client, log),
		ratelimit.NewMemoryLimiter(log),
		log,
	)
	rules := ratelimit.NewRules(cfg.RateLimit)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, rules, log)
	rlCleaner := ratelimit.NewCleaner(redisClient.Client, log, 10*time.Minute)

	// Telegram transport.
	b, err := bot.New(*cfg, log, coordinator, userSvc, unlockSvc, guard, uow.DB(), translations, idemManager, rateLimitMw)
	if err != nil {
		return err
	}
	bot.NewNotifier(b.Telebot(), translations, log).Register(bus)

	// Reconciliation.
	engine := reconcile.NewEngine(uow, ledgerStore, ledgerStore, userRepo, stateRepo, contentRepo, unlockStore, registry, locker, log)

	// Background jobs.
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	scheduler := jobs.NewScheduler(redisOpt, jobs.SweepSettings{
		Schedule:  cfg.Reconcile.SweepSchedule,
		BatchSize: cfg.Reconcile.BatchSize,
		UserPause: cfg.Reconcile.UserPause,
	}, log)
	worker := jobs.NewWorker(redisOpt, map[string]int{
		jobs.QueueCritical: 6,
		jobs.QueueDefault:  3,
		jobs.QueueLow:      1,
	}, log)
	worker.RegisterHandler(jobs.TaskTypeReconcileSweep, jobhandlers.NewReconcileSweepHandler(engine, apperrors.NewHandler(log, cfg.Sentry.Enabled), log))
	worker.RegisterHandler(jobs.TaskTypeAccessExpire, jobhandlers.NewAccessExpireHandler(uow, ledgerSvc, userRepo, userSvc, bus, log))
	worker.RegisterHandler(jobs.TaskTypeIdempotencyCleanup, jobhandlers.NewIdempotencyCleanupHandler(idemCleaner, log))

	if err := scheduler.RegisterTasks(); err != nil {
		return err
	}

	// Observability endpoints.
	checker := health.NewChecker(log)
	checker.AddCheck("database", health.NewDBChecker(db))
	checker.AddCheck("redis", health.NewRedisChecker(redisClient.Client))
	checker.AddCheck("telegram", health.NewBotChecker(b.Telebot()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", checker.Handler())

	httpHandler := logger.Middleware(middleware.New(log)(mux))
	srv := graceful.NewServer(log, &http.Server{
		Addr:    cfg.Server.Port,
		Handler: httpHandler,
	}, cfg.Server.ShutdownTimeout)

	config.Watch(v, cfg.AppEnv, log, func(updated *config.Config) {
		log.Info("configuration updated; restart required for most settings to apply")
	})

	// Run everything.
	go b.Start()
	go idemCleaner.Run(ctx)
	go rlCleaner.Run(ctx)
	scheduler.Run()

	workerErr := make(chan error, 1)
	go func() { workerErr <- worker.Run() }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-workerErr:
		if err != nil {
			log.Error("jobs worker failed", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("telegram bot", func(context.Context) error {
		b.Stop()
		return nil
	})
	shutdown.Register("scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.Register("jobs worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("event bus", bus.Drain)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	log.Info("questline bot stopped")
	return nil
}
