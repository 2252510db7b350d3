package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeOverdueStore struct {
	convs []domain.Conversation
	grace time.Duration
}

func (f *fakeOverdueStore) ListOverdueHandoffs(_ context.Context, grace time.Duration, limit int) ([]domain.Conversation, error) {
	f.grace = grace
	if len(f.convs) > limit {
		return f.convs[:limit], nil
	}
	return f.convs, nil
}

type fakeEnqueuer struct {
	scheduled []uuid.UUID
	delays    []time.Duration
	failFor   uuid.UUID
}

func (f *fakeEnqueuer) ScheduleHandoffTimeout(_ context.Context, _, conversationID uuid.UUID, delay time.Duration) error {
	if conversationID == f.failFor {
		return errors.New("redis down")
	}
	f.scheduled = append(f.scheduled, conversationID)
	f.delays = append(f.delays, delay)
	return nil
}

func TestTimeoutSweeperReenqueuesOverdue(t *testing.T) {
	ok := domain.Conversation{ID: uuid.New(), TenantID: uuid.New(), Status: domain.StatusWaitingHuman}
	failing := domain.Conversation{ID: uuid.New(), TenantID: uuid.New(), Status: domain.StatusWaitingHuman}
	store := &fakeOverdueStore{convs: []domain.Conversation{ok, failing}}
	queue := &fakeEnqueuer{failFor: failing.ID}

	s := NewTimeoutSweeper(store, queue, logger.Nop(), 0, 0)
	if got := s.sweep(context.Background()); got != 1 {
		t.Fatalf("sweep enqueued %d, want 1", got)
	}
	if len(queue.scheduled) != 1 || queue.scheduled[0] != ok.ID || queue.delays[0] != 0 {
		t.Fatalf("scheduled = %v delays = %v", queue.scheduled, queue.delays)
	}
	if store.grace != defaultSweepGrace {
		t.Fatalf("grace = %s", store.grace)
	}
}

type fakeIncidentStore struct {
	before time.Time
}

func (f *fakeIncidentStore) DeleteSecurityIncidentsBefore(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 3, nil
}

func TestIncidentRetentionCutoff(t *testing.T) {
	store := &fakeIncidentStore{}
	c := NewIncidentRetention(store, logger.Nop(), 0, 24*time.Hour)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.cleanup(context.Background())
	if want := now.Add(-24 * time.Hour); !store.before.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", store.before, want)
	}
}
