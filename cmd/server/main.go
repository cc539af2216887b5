// Package main is the entry point for the API server.
// It loads configuration, connects PostgreSQL and Redis, builds the
// services, mounts the routes and runs the background workers until
// the process is signalled.
package main

import (
	"context"
	"errors"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vtupay/internal/config"
	"vtupay/internal/handlers"
	"vtupay/internal/logger"
	"vtupay/internal/repositories"
	"vtupay/internal/repositories/cache"
	"vtupay/internal/routes"
	"vtupay/internal/services/auth"
	"vtupay/internal/services/gateway"
	"vtupay/internal/services/lock"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/otp"
	"vtupay/internal/services/vtu"
	"vtupay/internal/services/wallet"
	"vtupay/internal/services/webhook"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		stdlog.Fatalf("failed to initialise logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, err := repositories.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Warn("failed to close database connection", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		return err
	}

	store := cache.NewStore(cache.NewRedisClient(&cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close redis connection", zap.Error(err))
		}
	}()
	if err := store.HealthCheck(ctx); err != nil {
		return err
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr()))

	queue := newQueue(cfg, log)
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("failed to close notification queue", zap.Error(err))
		}
	}()
	notifier := notification.NewDispatcher(queue, log)

	users := repositories.NewUserRepository(db)
	otpService := otp.NewService(store, otp.Config{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, log)
	authService := auth.NewService(users, store, otpService, notifier, auth.Config{
		AccessSecret:        cfg.JWT.AccessSecret,
		RefreshSecret:       cfg.JWT.RefreshSecret,
		AccessTTL:           cfg.JWT.AccessTTL,
		RefreshTTL:          cfg.JWT.RefreshTTL,
		Issuer:              cfg.JWT.Issuer,
		RotateRefreshTokens: cfg.JWT.RotateRefreshTokens,
	}, log)

	provider := vtu.NewClient(vtu.Config{
		Name:    cfg.VTU.Name,
		BaseURL: cfg.VTU.BaseURL,
		APIKey:  cfg.VTU.APIKey,
		Timeout: cfg.VTU.Timeout,
	}, log)
	gw := gateway.NewClient(gateway.Config{
		Name:        cfg.Gateway.Name,
		BaseURL:     cfg.Gateway.BaseURL,
		SecretKey:   cfg.Gateway.SecretKey,
		CallbackURL: cfg.Gateway.CallbackURL,
		Timeout:     cfg.Gateway.Timeout,
	}, log)

	limits := wallet.Config{
		Currency:        cfg.Ledger.Currency,
		LockTTL:         cfg.Ledger.LockTTL,
		ProviderTimeout: cfg.VTU.Timeout,
		MinAmountMinor:  cfg.Ledger.MinAmountMinor,
		MaxAmountMinor:  cfg.Ledger.MaxAmountMinor,
		PendingMaxAge:   cfg.Ledger.PendingMaxAge,
		HistoryPageSize: cfg.Ledger.HistoryPageSize,
	}
	walletService := wallet.NewService(wallet.Dependencies{
		Repo:     repositories.NewWalletRepository(db),
		Users:    users,
		Plans:    repositories.NewPlanRepository(db),
		Locks:    lock.NewManager(store, log),
		Provider: provider,
		Notifier: notifier,
		Metrics:  wallet.NewPrometheusCollector(prometheus.DefaultRegisterer),
		Logger:   log,
	}, limits)

	var verifier webhook.Verifier
	if cfg.Gateway.VerifyEvents {
		verifier = gw
	}
	processor := webhook.NewProcessor(walletService, users, verifier, webhook.Config{
		Provider: cfg.Gateway.Name,
		Secret:   cfg.Gateway.WebhookSecret,
		Currency: cfg.Ledger.Currency,
	}, log)

	app := fiber.New(fiber.Config{
		AppName:               "vtupay",
		DisableStartupMessage: config.IsProduction(),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowCredentials: true,
	}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		Auth:     authService,
		OTP:      otpService,
		Notifier: notifier,
		Wallet:   walletService,
		Users:    users,
		Gateway:  gw,
		Webhooks: processor,
		Limits:   limits,
		Health: map[string]handlers.HealthCheck{
			"database": func(ctx context.Context) error { return repositories.Ping(ctx, db) },
			"redis":    store.HealthCheck,
		},
		Metrics:       adaptor.HTTPHandler(promhttp.Handler()),
		Logger:        log,
		AuthRateLimit: cfg.Server.AuthRateLimit,
	})

	worker := notification.NewWorker(queue, store, notification.LogSender{Logger: log}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("port", cfg.Server.Port))
		return app.Listen(":" + cfg.Server.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		return app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		// Notifications are best-effort; a dead consumer must not take the API down.
		if err := ignoreCanceled(worker.Run(gctx)); err != nil {
			log.Error("notification worker stopped", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		runReconciler(gctx, walletService, cfg.Ledger.ReconcileInterval, log)
		return nil
	})
	g.Go(func() error {
		reportPoolStats(gctx, db, log)
		return nil
	})

	return g.Wait()
}

// newQueue prefers Kafka and falls back to an in-process queue when no
// brokers are configured.
func newQueue(cfg *config.Config, log *zap.Logger) notification.Queue {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("KAFKA_BROKERS not set, notifications use an in-process queue")
		return notification.NewMemoryQueue(1024, 5, log)
	}
	return notification.NewKafkaQueue(notification.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, log)
}

// runReconciler sweeps stale pending purchases every interval.
func runReconciler(ctx context.Context, svc wallet.Service, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		log.Info("pending reconciliation sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := svc.ReconcileStale(ctx)
			if err != nil {
				log.Error("reconciliation sweep failed", zap.Error(err))
				continue
			}
			if summary.Checked > 0 {
				log.Info("reconciliation sweep finished",
					zap.Int("checked", summary.Checked),
					zap.Int("completed", summary.Completed),
					zap.Int("failed", summary.Failed),
					zap.Int("pending", summary.Pending),
					zap.Int("errors", summary.Errors))
			}
		}
	}
}

func reportPoolStats(ctx context.Context, db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sqlDB.Stats()
			log.Debug("db pool stats",
				zap.Int("open", stats.OpenConnections),
				zap.Int("idle", stats.Idle),
				zap.Int("in_use", stats.InUse),
				zap.Int64("wait_count", stats.WaitCount),
				zap.Duration("wait_duration", stats.WaitDuration))
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
