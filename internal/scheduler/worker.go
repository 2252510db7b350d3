package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/pipeline"
	"chatflow_backend/internal/lock"
	"chatflow_backend/platform/config"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const busyRetryDelay = 3 * time.Second

var errConversationBusy = errors.New("conversation is being processed by another worker")

// MessageProcessor runs the message pipeline.
type MessageProcessor interface {
	Process(ctx context.Context, job domain.ProcessingJob) (pipeline.Result, error)
}

// TimeoutHandler reverts conversations nobody claimed in time.
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, tenantID, conversationID uuid.UUID) error
}

// AgentNotifier alerts a tenant's agents about a pending handoff.
type AgentNotifier interface {
	NotifyHandoff(ctx context.Context, notification domain.AgentNotification) error
}

// ConversationLocker serialises work on one conversation across workers.
type ConversationLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Handlers holds the task handlers. They are plain functions of the task so
// they can be exercised without a running asynq server.
type Handlers struct {
	Processor MessageProcessor
	Timeouts  TimeoutHandler
	Notifier  AgentNotifier
	Locker    ConversationLocker
	LockTTL   time.Duration
	Log       *logger.Logger
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, handlers *Handlers, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		RetryDelayFunc: retryDelay,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errConversationBusy)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			if errors.Is(err, errConversationBusy) {
				return
			}
			log.Error("scheduler: task failed", "type", task.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		log:    log,
	}

	if handlers.Processor != nil {
		mux.HandleFunc(TaskProcessMessage, handlers.HandleProcessMessage)
	}
	if handlers.Timeouts != nil {
		mux.HandleFunc(TaskHandoffTimeout, handlers.HandleHandoffTimeout)
	}
	if handlers.Notifier != nil {
		mux.HandleFunc(TaskAgentNotification, handlers.HandleAgentNotification)
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// retryDelay retries lock contention quickly and everything else with asynq's backoff.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if errors.Is(err, errConversationBusy) {
		return busyRetryDelay
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

func (h *Handlers) HandleProcessMessage(ctx context.Context, task *asynq.Task) error {
	job, err := ParseProcessMessagePayload(task)
	if err != nil {
		return fmt.Errorf("decode processing job: %v: %w", err, asynq.SkipRetry)
	}
	if job.TenantID == uuid.Nil || job.ConversationID == uuid.Nil || job.MessageID == uuid.Nil || job.LeadID == uuid.Nil {
		return fmt.Errorf("incomplete processing job: %w", asynq.SkipRetry)
	}

	if h.Locker != nil {
		release, err := h.Locker.Acquire(ctx, lock.ConversationKey(job.ConversationID), h.LockTTL)
		if errors.Is(err, lock.ErrHeld) {
			return errConversationBusy
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				h.Log.Warn("scheduler: failed to release conversation lock", "conversationId", job.ConversationID, "error", err)
			}
		}()
	}

	_, err = h.Processor.Process(ctx, job)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (h *Handlers) HandleHandoffTimeout(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseHandoffTimeoutPayload(task)
	if err != nil {
		return fmt.Errorf("decode handoff timeout: %v: %w", err, asynq.SkipRetry)
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("tenant id: %v: %w", err, asynq.SkipRetry)
	}
	conversationID, err := uuid.Parse(payload.ConversationID)
	if err != nil {
		return fmt.Errorf("conversation id: %v: %w", err, asynq.SkipRetry)
	}

	err = h.Timeouts.HandleTimeout(ctx, tenantID, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		h.Log.JobDropped("conversation not found", "conversationId", conversationID)
		return nil
	}
	return err
}

func (h *Handlers) HandleAgentNotification(ctx context.Context, task *asynq.Task) error {
	notification, err := ParseAgentNotificationPayload(task)
	if err != nil {
		return fmt.Errorf("decode agent notification: %v: %w", err, asynq.SkipRetry)
	}
	return h.Notifier.NotifyHandoff(ctx, notification)
}
