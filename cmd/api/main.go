package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatflow_backend/internal/conversations"
	"chatflow_backend/internal/conversations/handler"
	"chatflow_backend/internal/conversations/handoff"
	"chatflow_backend/internal/conversations/repository"
	"chatflow_backend/internal/events"
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/http/router"
	"chatflow_backend/internal/notification"
	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/internal/scheduler"
	"chatflow_backend/internal/whatsapp"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/db"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var rdb *redis.Client
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		c, err := scheduler.NewRedisClient(cfg)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return err
		}
		rdb = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	queue, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize job queue client", "error", err)
		panic("failed to initialize job queue client: " + err.Error())
	}
	defer func() { _ = queue.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Agent dashboards: bus events go out on Redis, every API instance relays them to its SSE clients.
	hub := sse.New(log)
	broadcaster := notification.NewBroadcaster(rdb, log)
	notification.New(broadcaster, log).RegisterHandlers(eventBus)
	go func() {
		if err := broadcaster.Relay(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("notification relay stopped", "error", err)
		}
	}()

	if cfg.GetWebhookSecret() == "" {
		log.Warn("WEBHOOK_SECRET not configured; inbound webhook accepts unauthenticated calls")
	}
	waClient := whatsapp.NewClient(cfg, cfg, log)
	if waClient == nil {
		log.Warn("WHATSAPP_URL not configured; outbound delivery disabled")
	}
	channels := whatsapp.NewResolver(waClient, cfg.GetOutboundRatePerSecond())

	// Shared validator instance for dependency injection
	val := validator.New()
	if err := handler.RegisterValidations(val, cfg.GetPhoneDefaultRegion()); err != nil {
		log.Error("failed to register request validations", "error", err)
		panic("failed to register request validations: " + err.Error())
	}

	repo := repository.New(pool)
	lifecycle := handoff.NewStateMachine(repo, queue, channels, eventBus, log)
	conversationsModule := conversations.NewModule(repo, queue, lifecycle, channels, val, log)
	conversationsModule.Service().WithPhoneRegion(cfg.GetPhoneDefaultRegion())

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  pool,
		Metrics: registry,
		Modules: []apphttp.Module{
			conversationsModule,
			notification.NewStreamModule(hub),
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
