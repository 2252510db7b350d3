package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	processMaxRetry      = 5
	processTimeout       = 2 * time.Minute
	notificationMaxRetry = 3
)

// Client enqueues conversation jobs. It implements the handoff JobScheduler port.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// EnqueueProcessing queues one pipeline run. A job already queued for the same
// message is not an error.
func (c *Client) EnqueueProcessing(ctx context.Context, job domain.ProcessingJob) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewProcessMessageTask(job)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(ProcessMessageTaskID(job.MessageID)),
		asynq.MaxRetry(processMaxRetry),
		asynq.Timeout(processTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ScheduleHandoffTimeout registers the timeout job, replacing a pending one.
func (c *Client) ScheduleHandoffTimeout(ctx context.Context, tenantID, conversationID uuid.UUID, delay time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewHandoffTimeoutTask(HandoffTimeoutPayload{
		TenantID:       tenantID.String(),
		ConversationID: conversationID.String(),
	})
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(HandoffTimeoutTaskID(conversationID)),
		asynq.ProcessIn(delay),
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	if err := c.CancelHandoffTimeout(ctx, conversationID); err != nil {
		return fmt.Errorf("replace pending timeout: %w", err)
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	return err
}

// CancelHandoffTimeout removes the pending timeout job. Missing jobs are ignored.
func (c *Client) CancelHandoffTimeout(_ context.Context, conversationID uuid.UUID) error {
	if c == nil || c.inspector == nil {
		return nil
	}

	err := c.inspector.DeleteTask(c.queue, HandoffTimeoutTaskID(conversationID))
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

func (c *Client) EnqueueAgentNotification(ctx context.Context, notification domain.AgentNotification) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewAgentNotificationTask(notification)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(notificationMaxRetry))
	return err
}

// NewRedisClient opens a go-redis client on the queue's Redis, used for
// conversation locks and agent notification pub/sub.
func NewRedisClient(cfg config.SchedulerConfig) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, fmt.Errorf("redis url not configured")
	}
	opt, err := redisOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func redisOptions(redisURL string, tlsInsecure bool) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opt, nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redisOptions(redisURL, tlsInsecure)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
