package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-payments/config"
	"donation-payments/internal/adapter/events"
	httpHandler "donation-payments/internal/adapter/http/handler"
	"donation-payments/internal/adapter/rates"
	pgStorage "donation-payments/internal/adapter/storage/postgres"
	redisStorage "donation-payments/internal/adapter/storage/redis"
	"donation-payments/internal/core/ports"
	"donation-payments/internal/gateway"
	"donation-payments/internal/gateway/interpay"
	"donation-payments/internal/gateway/israpay"
	"donation-payments/internal/service"
	"donation-payments/pkg/logger"
	"donation-payments/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Donation Payments Engine")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Initialize repositories
	txStore := pgStorage.NewTransactionRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	processLock := redisStorage.NewProcessingLock(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize event publisher
	var publisher ports.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		natsPub, err := events.NewNATSPublisher(cfg.NATS, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		publisher = natsPub
	}
	defer publisher.Close()

	// Initialize gateway adapters behind per-gateway circuit breakers
	breakerGauge := func(name string, state gateway.BreakerState) {
		metrics.GatewayBreakerState.WithLabelValues(name).Set(float64(state))
	}

	interpayAdapter := interpay.NewAdapter(cfg.Gateways.InterPay, cfg.Gateways.CallTimeout, log)
	interpayBreaker := gateway.NewBreaker(interpay.GatewayID,
		cfg.Breaker.FailureThreshold, cfg.Breaker.Window, cfg.Breaker.Cooldown)
	interpayBreaker.OnStateChange(breakerGauge)
	interpayGW := gateway.WithBreaker(interpayAdapter, interpayBreaker)

	israpayAdapter := israpay.NewAdapter(cfg.Gateways.IsraPay, cfg.Gateways.CallTimeout, log)
	israpayBreaker := gateway.NewBreaker(israpay.GatewayID,
		cfg.Breaker.FailureThreshold, cfg.Breaker.Window, cfg.Breaker.Cooldown)
	israpayBreaker.OnStateChange(breakerGauge)
	israpayGW := gateway.WithBreaker(israpayAdapter, israpayBreaker)

	// ILS routes to the local processor, everything else to the
	// international one.
	router := gateway.NewRouter(map[string]ports.GatewayAdapter{
		"ILS": israpayGW,
		"USD": interpayGW,
		"EUR": interpayGW,
		"GBP": interpayGW,
	})

	// Initialize business services
	rateSource := rates.NewClient(cfg.Rates, cfg.Gateways.CallTimeout, log)
	currencySvc := service.NewCurrencyService(rateSource, cfg.Rates.CacheTTL, log)
	auditSvc := service.NewAuditService(auditRepo, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	paymentSvc := service.NewPaymentService(
		txStore,
		router,
		currencySvc,
		auditSvc,
		idempotencyCache,
		processLock,
		publisher,
		cfg.Retry,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// In debug mode, print a bootstrap token so local callers can exercise
	// the API without a token service of their own.
	if cfg.Server.Mode == "debug" {
		if token, _, err := tokenSvc.Generate("local-dev"); err == nil {
			log.Info().Str("token", token).Msg("bootstrap dev token")
		}
	}

	// Setup Gin router with all routes
	engine := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
