// Package scoring maintains a lead's interest score and funnel stage.
package scoring

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/events"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence the engine needs.
type Store interface {
	UpdateLeadScore(ctx context.Context, tenantID, leadID uuid.UUID, score int, stage domain.LeadStage) error
	InsertLeadEvent(ctx context.Context, event domain.LeadEvent) error
}

// Result describes the effect of one score update.
type Result struct {
	OldScore     int
	NewScore     int
	AppliedDelta int
	OldStage     domain.LeadStage
	NewStage     domain.LeadStage
	StageChanged bool
}

// Engine applies score deltas and records stage changes.
type Engine struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
}

func New(store Store, bus events.Bus, log *logger.Logger) *Engine {
	return &Engine{store: store, bus: bus, log: log, now: time.Now}
}

// StageForScore maps a score onto the tenant's bands.
func StageForScore(score int, rules domain.HandoffRules) domain.LeadStage {
	switch {
	case score >= rules.ScoreThreshold:
		return domain.StageHot
	case score >= rules.QualifyingScore:
		return domain.StageQualifying
	default:
		return domain.StageNew
	}
}

// ShouldAutoHandoff reports whether the score reached the tenant's threshold.
func ShouldAutoHandoff(score int, rules domain.HandoffRules) bool {
	return score >= rules.ScoreThreshold
}

// Compute applies the clamped delta without side effects. Sticky stages are kept.
func Compute(score int, stage domain.LeadStage, delta int, rules domain.HandoffRules) Result {
	applied := domain.ClampScoreDelta(delta)
	res := Result{
		OldScore:     score,
		NewScore:     score + applied,
		AppliedDelta: applied,
		OldStage:     stage,
		NewStage:     stage,
	}
	if !stage.IsSticky() {
		res.NewStage = StageForScore(res.NewScore, rules)
	}
	res.StageChanged = res.NewStage != res.OldStage
	return res
}

// UpdateScore applies delta to the lead, persists score and stage and, when the band
// changes, records a stage_changed event and publishes LeadStageChanged.
func (e *Engine) UpdateScore(ctx context.Context, lead domain.Lead, delta int, rules domain.HandoffRules, actor string) (Result, error) {
	res := Compute(lead.Score, lead.Stage, delta, rules)
	if res.AppliedDelta == 0 && !res.StageChanged {
		return res, nil
	}

	if err := e.store.UpdateLeadScore(ctx, lead.TenantID, lead.ID, res.NewScore, res.NewStage); err != nil {
		return res, fmt.Errorf("update lead score: %w", err)
	}

	if !res.StageChanged {
		return res, nil
	}

	event := domain.LeadEvent{
		ID:        uuid.New(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		EventType: domain.EventStageChanged,
		ActorType: actor,
		Data: map[string]any{
			"from":  string(res.OldStage),
			"to":    string(res.NewStage),
			"score": res.NewScore,
			"delta": res.AppliedDelta,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.InsertLeadEvent(ctx, event); err != nil {
		return res, fmt.Errorf("record stage change: %w", err)
	}

	e.log.Info("scoring: lead stage changed",
		"leadId", lead.ID,
		"tenantId", lead.TenantID,
		"from", res.OldStage,
		"to", res.NewStage,
		"score", res.NewScore,
	)

	if e.bus != nil {
		e.bus.Publish(ctx, events.LeadStageChanged{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  lead.TenantID,
			LeadID:    lead.ID,
			OldStage:  string(res.OldStage),
			NewStage:  string(res.NewStage),
			Score:     res.NewScore,
			Actor:     actor,
		})
	}
	return res, nil
}
