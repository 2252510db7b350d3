package scheduler

import (
	"context"
	"time"

	"chatflow_backend/platform/logger"
)

const (
	defaultIncidentCleanupInterval = 6 * time.Hour
	defaultIncidentRetention       = 90 * 24 * time.Hour
)

// IncidentStore deletes old security incidents.
type IncidentStore interface {
	DeleteSecurityIncidentsBefore(ctx context.Context, before time.Time) (int64, error)
}

// IncidentRetention periodically removes security incidents past their retention.
type IncidentRetention struct {
	store     IncidentStore
	log       *logger.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewIncidentRetention(store IncidentStore, log *logger.Logger, interval, retention time.Duration) *IncidentRetention {
	if interval <= 0 {
		interval = defaultIncidentCleanupInterval
	}
	if retention <= 0 {
		retention = defaultIncidentRetention
	}
	return &IncidentRetention{
		store:     store,
		log:       log,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (c *IncidentRetention) Run(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *IncidentRetention) cleanup(ctx context.Context) {
	deleted, err := c.store.DeleteSecurityIncidentsBefore(ctx, c.now().Add(-c.retention))
	if err != nil {
		c.log.Warn("scheduler: security incident cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		c.log.Info("scheduler: security incident cleanup deleted old incidents", "deleted", deleted)
	}
}
