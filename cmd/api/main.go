package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/voucher-claim-system/internal/auth"
	"github.com/fairyhunter13/voucher-claim-system/internal/breaker"
	"github.com/fairyhunter13/voucher-claim-system/internal/cache"
	"github.com/fairyhunter13/voucher-claim-system/internal/config"
	"github.com/fairyhunter13/voucher-claim-system/internal/handler"
	"github.com/fairyhunter13/voucher-claim-system/internal/metrics"
	"github.com/fairyhunter13/voucher-claim-system/internal/queue"
	"github.com/fairyhunter13/voucher-claim-system/internal/ratelimit"
	"github.com/fairyhunter13/voucher-claim-system/internal/repository"
	"github.com/fairyhunter13/voucher-claim-system/internal/service"
	"github.com/fairyhunter13/voucher-claim-system/internal/validator"
	"github.com/fairyhunter13/voucher-claim-system/pkg/database"
	"github.com/fairyhunter13/voucher-claim-system/pkg/kv"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize zerolog based on configuration
	initLogger(cfg)

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// KV clients: one instance for cache + rate limiting, one for the queue
	kvClients, err := kv.NewClients(ctx, kv.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	queueClients, err := kv.NewClients(ctx, kv.Options{Addr: cfg.Queue.Addr()})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue redis")
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Claim pipeline components
	appCache := cache.New(kvClients.Commands, m)
	limiter := ratelimit.New(kvClients.Commands)
	claimQueue := queue.New(queueClients.Commands)
	cb := breaker.New(breaker.Settings{
		Name:             "claim-tx",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		CallTimeout:      cfg.Breaker.CallTimeout,
		OpenDuration:     cfg.Breaker.OpenDuration,
		OnTransition: func(from, to string) {
			m.BreakerTransitionsTotal.WithLabelValues(from, to).Inc()
		},
	})

	// Repositories and services (layered architecture)
	userRepo := repository.NewUserRepository(pool)
	voucherRepo := repository.NewVoucherRepository(pool)
	claimRepo := repository.NewClaimRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	claimService := service.NewClaimService(pool, userRepo, voucherRepo, claimRepo, auditRepo,
		appCache, limiter, claimQueue, cb, m, service.Limits{
			UserMax:    cfg.RateLimit.UserMax,
			UserWindow: cfg.RateLimit.UserWindow,
			IPMax:      cfg.RateLimit.IPMax,
			IPWindow:   cfg.RateLimit.IPWindow,
		})
	refundService := service.NewRefundService(pool, userRepo, voucherRepo, claimRepo, auditRepo, appCache, m)

	// Claim worker drains the queued path
	worker := queue.NewWorker(claimQueue, claimService.ProcessClaimJob, m, queue.WorkerOptions{
		Concurrency: cfg.Worker.Concurrency,
		RatePerSec:  cfg.Worker.RatePerSec,
	})
	worker.Start(ctx)

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Voucher Claim System",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB body limit
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	// Initialize validator
	validate := validator.New()

	// Handlers
	claimHandler := handler.NewClaimHandler(claimService, validate)
	refundHandler := handler.NewRefundHandler(refundService, validate)
	authHandler := handler.NewAuthHandler(sessionRepo)
	healthHandler := handler.NewHealthHandler(pool, handler.PingerFunc(func(ctx context.Context) error {
		return kvClients.Commands.Ping(ctx).Err()
	}))

	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Voucher routes
	bearer := auth.Required(sessionRepo)
	vouchers := app.Group("/vouchers")
	vouchers.Get("/queue/metrics", claimHandler.QueueMetrics)
	vouchers.Post("/claim", bearer, claimHandler.ClaimVoucher)
	vouchers.Get("/claim/:requestId", bearer, claimHandler.ClaimStatus)
	vouchers.Get("/history", bearer, claimHandler.History)
	vouchers.Get("/user/summary", bearer, claimHandler.Summary)
	vouchers.Post("/refund", bearer, auth.AdminOnly(), refundHandler.RefundClaim)
	vouchers.Post("/logout", bearer, authHandler.Logout)

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Stop the worker before the stores go away; active jobs run to completion
	worker.Stop()

	// Close backing connections AFTER server shutdown (even if shutdown timed out)
	log.Info().Msg("closing connections...")
	pool.Close()
	_ = kvClients.Close()
	_ = queueClients.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Log.Pretty {
		// Human-readable output for development
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
