package scheduler

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepGrace    = 5 * time.Minute
	sweepBatchSize       = 50
)

// OverdueHandoffStore lists conversations still waiting for an agent after their timeout.
type OverdueHandoffStore interface {
	ListOverdueHandoffs(ctx context.Context, grace time.Duration, limit int) ([]domain.Conversation, error)
}

// TimeoutEnqueuer is satisfied by Client.
type TimeoutEnqueuer interface {
	ScheduleHandoffTimeout(ctx context.Context, tenantID, conversationID uuid.UUID, delay time.Duration) error
}

// TimeoutSweeper re-enqueues handoff timeouts whose job was lost, for example
// when Redis was unavailable at handoff time.
type TimeoutSweeper struct {
	store    OverdueHandoffStore
	queue    TimeoutEnqueuer
	log      *logger.Logger
	interval time.Duration
	grace    time.Duration
}

func NewTimeoutSweeper(store OverdueHandoffStore, queue TimeoutEnqueuer, log *logger.Logger, interval, grace time.Duration) *TimeoutSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	return &TimeoutSweeper{
		store:    store,
		queue:    queue,
		log:      log,
		interval: interval,
		grace:    grace,
	}
}

func (s *TimeoutSweeper) Run(ctx context.Context) {
	if s == nil || s.store == nil || s.queue == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TimeoutSweeper) sweep(ctx context.Context) int {
	overdue, err := s.store.ListOverdueHandoffs(ctx, s.grace, sweepBatchSize)
	if err != nil {
		s.log.Warn("scheduler: overdue handoff lookup failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, conv := range overdue {
		if err := s.queue.ScheduleHandoffTimeout(ctx, conv.TenantID, conv.ID, 0); err != nil {
			s.log.Warn("scheduler: re-enqueue handoff timeout failed", "conversationId", conv.ID, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Info("scheduler: re-enqueued overdue handoff timeouts", "count", enqueued)
	}
	return enqueued
}
