package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"chatflow_backend/internal/aiservice"
	"chatflow_backend/internal/conversations"
	"chatflow_backend/internal/conversations/handoff"
	"chatflow_backend/internal/conversations/pipeline"
	"chatflow_backend/internal/conversations/repository"
	"chatflow_backend/internal/conversations/scoring"
	"chatflow_backend/internal/conversations/security"
	"chatflow_backend/internal/email"
	"chatflow_backend/internal/events"
	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/http/router"
	"chatflow_backend/internal/lock"
	"chatflow_backend/internal/metrics"
	"chatflow_backend/internal/notification"
	"chatflow_backend/internal/scheduler"
	"chatflow_backend/internal/whatsapp"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/db"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/retry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const aiBreakerName = "ai"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	m := metrics.New(registry)

	eventBus := events.NewInMemoryBus(log)
	broadcaster := notification.NewBroadcaster(rdb, log)
	notification.New(broadcaster, log).RegisterHandlers(eventBus)

	waClient := whatsapp.NewClient(cfg, cfg, log)
	if waClient == nil {
		log.Warn("WHATSAPP_URL not configured; outbound delivery disabled")
	}
	channels := whatsapp.NewResolver(waClient, cfg.GetOutboundRatePerSecond())

	// ========================================================================
	// Conversation pipeline
	// ========================================================================

	breaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:         aiBreakerName,
		Threshold:    cfg.GetAIBreakerThreshold(),
		Window:       cfg.GetAIBreakerWindow(),
		ResetTimeout: cfg.GetAIBreakerReset(),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			log.Warn("circuitbreaker: state changed", "breaker", name, "from", from, "to", to)
			m.BreakerStateChanged(name, from, to)
		},
	})
	aiRetry := retry.New(retry.Options{
		MaxRetries:  cfg.GetAIMaxRetries(),
		BaseDelay:   cfg.GetAIRetryBaseDelay(),
		MaxDelay:    cfg.GetAIRetryMaxDelay(),
		Jitter:      true,
		ShouldRetry: aiservice.IsRetryable,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			log.Warn("retry: ai call failed", "attempt", attempt, "delay", delay, "error", err)
		},
	})

	log.Info("ai resilience configured",
		"maxAttempts", aiRetry.MaxAttempts(),
		"breakerThreshold", cfg.GetAIBreakerThreshold(),
		"breakerWindow", cfg.GetAIBreakerWindow(),
	)

	sanitizer, err := security.DefaultSanitizer()
	if err != nil {
		log.Error("failed to load input patterns", "error", err)
		panic("failed to load input patterns: " + err.Error())
	}
	responseValidator, err := security.DefaultResponseValidator()
	if err != nil {
		log.Error("failed to load response patterns", "error", err)
		panic("failed to load response patterns: " + err.Error())
	}

	repo := repository.New(pool)
	lifecycle := handoff.NewStateMachine(repo, queue, channels, eventBus, log)

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Deps{
		Store:     repo,
		AI:        aiservice.NewKimi(cfg),
		Channels:  channels,
		Breaker:   breaker,
		Retry:     aiRetry,
		Sanitizer: sanitizer,
		Validator: responseValidator,
		Scoring:   scoring.New(repo, eventBus, log),
		Handoff:   lifecycle,
		Bus:       eventBus,
		Metrics:   m,
		Log:       log,
	})
	if err != nil {
		log.Error("failed to initialize orchestrator", "error", err)
		panic("failed to initialize orchestrator: " + err.Error())
	}

	if !cfg.IsSMTPEnabled() {
		log.Warn("SMTP not configured; agent emails are logged only")
	}
	notifier := notification.NewNotifier(repo, email.NewSender(cfg), broadcaster, cfg.GetAppBaseURL(), log)

	worker, err := scheduler.NewWorker(cfg, &scheduler.Handlers{
		Processor: orchestrator,
		Timeouts:  lifecycle,
		Notifier:  notifier,
		Locker:    lock.New(rdb),
		LockTTL:   cfg.GetConversationLockTTL(),
		Log:       log,
	}, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	// ========================================================================
	// Background jobs
	// ========================================================================

	sweepInterval := getDurationEnv("HANDOFF_SWEEP_INTERVAL", 5*time.Minute)
	sweepGrace := getDurationEnv("HANDOFF_SWEEP_GRACE", 10*time.Minute)
	go scheduler.NewTimeoutSweeper(repo, queue, log, sweepInterval, sweepGrace).Run(ctx)

	retentionInterval := getDurationEnv("INCIDENT_CLEANUP_INTERVAL", 6*time.Hour)
	incidentRetention := time.Duration(getPositiveIntEnv("INCIDENT_RETENTION_DAYS", 90)) * 24 * time.Hour
	go scheduler.NewIncidentRetention(repo, log, retentionInterval, incidentRetention).Run(ctx)

	// Ops endpoint: health, metrics and the breaker admin routes of this process.
	opsAddr := getEnv("WORKER_HTTP_ADDR", ":9090")
	ops := &http.Server{
		Addr: opsAddr,
		Handler: router.New(&apphttp.App{
			Config:  cfg,
			Logger:  log,
			Health:  pool,
			Metrics: registry,
			Modules: []apphttp.Module{conversations.NewAdminModule(breaker, log)},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("ops server listening", "addr", opsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", "error", err)
		}
	}()

	worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error("ops server shutdown failed", "error", err)
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getPositiveIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}

	return parsed
}
