package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/api"
	"github.com/lalithlochan/taskdeck/internal/bot"
	"github.com/lalithlochan/taskdeck/internal/circuitbreaker"
	"github.com/lalithlochan/taskdeck/internal/config"
	"github.com/lalithlochan/taskdeck/internal/db"
	"github.com/lalithlochan/taskdeck/internal/metrics"
	"github.com/lalithlochan/taskdeck/internal/notify"
	"github.com/lalithlochan/taskdeck/internal/observ"
	"github.com/lalithlochan/taskdeck/internal/redis"
	"github.com/lalithlochan/taskdeck/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger("taskdeck", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting taskdeck",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("allowed_ids", len(cfg.AllowedIDs)),
		zap.String("digest_time", fmt.Sprintf("%02d:%02d", cfg.DigestHour, cfg.DigestMinute)),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)

	// Redis backs the dialog flows and the per-chat rate limiter. Both
	// degrade gracefully when Redis drops mid-run, but starting without it
	// would ship a bot that silently loses its multi-step flows.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	dialogStore := redis.NewDialogStore(redisClient, logger)
	rateLimiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
		Limit:  15,               // 15 updates
		Window: 10 * time.Second, // per 10 seconds per chat
	})

	// Telegram client, shared by the bot loop and the scheduler sends
	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to authorize telegram bot: %w", err)
	}

	logger.Info("telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	// Outbound sends are paced and wrapped in a circuit breaker so a
	// Telegram outage degrades to fast failures instead of piled-up calls.
	telegramNotifier := notify.NewTelegram(botAPI, cfg.SendRatePerSec, logger)
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("telegram"), logger)
	protectedNotifier := circuitbreaker.NewProtectedNotifier(telegramNotifier, breaker, logger)

	scanService, err := scheduler.NewService(repo, repo, protectedNotifier, cfg.DigestHour, cfg.DigestMinute, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	runner := scheduler.NewRunner(scanService, clock.New(), logger)
	if err := runner.Start(appCtx); err != nil {
		return fmt.Errorf("failed to start scan runner: %w", err)
	}

	logger.Info("notification scans scheduled")

	tgBot := bot.New(botAPI, repo, dialogStore, rateLimiter, clock.New(), bot.Config{
		AllowedIDs:      cfg.AllowedIDs,
		DefaultTimezone: cfg.DefaultTimezone,
	}, logger)

	go tgBot.Run(appCtx)

	// Connection gauges for the dashboards
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				metrics.SetDBConnections(database.ActiveConns())
				metrics.SetRedisConnections(int(redisClient.PoolStats().TotalConns))
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	// Health and metrics
	healthHandler := api.NewHandler(logger)
	healthHandler.AddCheck("database", database)
	healthHandler.AddCheck("redis", api.CheckerFunc(redisClient.Ping))

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Cancel in-flight scans and the poll loop first, then drain
		appCancel()
		tgBot.Stop()
		runner.Stop()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
