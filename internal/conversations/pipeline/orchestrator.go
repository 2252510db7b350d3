// Package pipeline runs one inbound message through sanitization, the AI call,
// response validation, scoring and the handoff decision, then delivers the reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/handoff"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/conversations/scoring"
	"chatflow_backend/internal/conversations/security"
	"chatflow_backend/internal/events"
	"chatflow_backend/platform/circuitbreaker"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// GenericFallbackMessage replaces rejected replies and stands in when the tenant has no fallback configured.
const GenericFallbackMessage = "Desculpe, tive um problema para responder agora. Um dos nossos atendentes vai falar com você em breve."

const actorAI = "ai"

// Outcome summarises how a job ended.
type Outcome string

const (
	OutcomeReplied      Outcome = "replied"
	OutcomeFallback     Outcome = "fallback"
	OutcomeDropped      Outcome = "dropped"
	OutcomeSkippedHuman Outcome = "skipped_human"
	OutcomeAborted      Outcome = "aborted"
)

// Store is the persistence surface of the pipeline.
type Store interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error)
	GetMessage(ctx context.Context, tenantID, messageID uuid.UUID) (domain.Message, error)
	// ListRecentMessages returns up to limit messages older than the given message, oldest first.
	ListRecentMessages(ctx context.Context, tenantID, conversationID, beforeMessageID uuid.UUID, limit int) ([]domain.Message, error)
	SetInjectionFlags(ctx context.Context, tenantID, messageID uuid.UUID, flags []string) error
	InsertMessage(ctx context.Context, msg domain.Message) error
	InsertSecurityIncident(ctx context.Context, incident domain.SecurityIncident) error
	// RecordAITurn increments the AI message counter and, when model is not empty, the last model label.
	RecordAITurn(ctx context.Context, tenantID, conversationID uuid.UUID, model string) error
}

// ScoreUpdater applies score deltas.
type ScoreUpdater interface {
	UpdateScore(ctx context.Context, lead domain.Lead, delta int, rules domain.HandoffRules, actor string) (scoring.Result, error)
}

// HandoffDriver is the part of the state machine the pipeline drives.
type HandoffDriver interface {
	TriggerHandoff(ctx context.Context, req handoff.TriggerRequest) error
	Reopen(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
}

// Deps are the collaborators of the Orchestrator.
type Deps struct {
	Store     Store
	AI        ports.AIService
	Channels  ports.ChannelResolver
	Breaker   *circuitbreaker.Breaker
	Retry     *retry.Policy
	Sanitizer *security.Sanitizer
	Validator *security.ResponseValidator
	Scoring   ScoreUpdater
	Handoff   HandoffDriver
	Bus       events.Bus
	Metrics   Recorder
	Log       *logger.Logger
}

// Result describes one pipeline run.
type Result struct {
	Outcome  Outcome
	Reply    string
	Turn     domain.AiTurnResult
	Decision domain.HandoffDecision
	Flags    []string
}

// Orchestrator processes ProcessingJobs. It holds no state between jobs.
type Orchestrator struct {
	store     Store
	ai        ports.AIService
	channels  ports.ChannelResolver
	breaker   *circuitbreaker.Breaker
	retry     *retry.Policy
	sanitizer *security.Sanitizer
	validator *security.ResponseValidator
	scoring   ScoreUpdater
	handoff   HandoffDriver
	bus       events.Bus
	metrics   Recorder
	log       *logger.Logger
	now       func() time.Time
}

func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.AI == nil:
		return nil, errors.New("pipeline: ai service is required")
	case deps.Channels == nil:
		return nil, errors.New("pipeline: channel resolver is required")
	case deps.Breaker == nil || deps.Retry == nil:
		return nil, errors.New("pipeline: breaker and retry policy are required")
	case deps.Sanitizer == nil || deps.Validator == nil:
		return nil, errors.New("pipeline: sanitizer and validator are required")
	case deps.Scoring == nil || deps.Handoff == nil:
		return nil, errors.New("pipeline: scoring and handoff are required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopRecorder{}
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		store:     deps.Store,
		ai:        deps.AI,
		channels:  deps.Channels,
		breaker:   deps.Breaker,
		retry:     deps.Retry,
		sanitizer: deps.Sanitizer,
		validator: deps.Validator,
		scoring:   deps.Scoring,
		handoff:   deps.Handoff,
		bus:       deps.Bus,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}, nil
}

type jobContext struct {
	tenant       domain.Tenant
	lead         domain.Lead
	conversation domain.Conversation
	message      domain.Message
}

// Process runs the pipeline for one job. A nil error with OutcomeDropped means the
// job referenced missing records and must not be retried. Invalid transitions are
// returned as errors wrapping domain.ErrInvalidTransition.
func (o *Orchestrator) Process(ctx context.Context, job domain.ProcessingJob) (res Result, err error) {
	start := o.now()
	ctx = logger.WithCorrelationID(ctx, job.CorrelationID)
	log := o.log.WithContext(ctx)
	defer func() {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "error"
		}
		o.metrics.PipelineRun(outcome, o.now().Sub(start))
	}()

	// 1. load
	jc, err := o.load(ctx, job)
	if errors.Is(err, domain.ErrNotFound) {
		log.JobDropped("referenced record not found",
			"conversationId", job.ConversationID,
			"messageId", job.MessageID,
			"error", err,
		)
		return Result{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return Result{}, err
	}

	// 2. the AI never speaks while a human owns the conversation
	if jc.conversation.Status == domain.StatusHuman {
		log.Info("pipeline: conversation owned by human, skipping", "conversationId", jc.conversation.ID)
		return Result{Outcome: OutcomeSkippedHuman}, nil
	}

	// 3. reopen in place
	if jc.conversation.Status == domain.StatusClosed {
		reopened, err := o.handoff.Reopen(ctx, jc.conversation)
		if err != nil {
			return o.abortOnTransition(log, err)
		}
		jc.conversation = reopened
	}

	ref := security.IncidentRef{
		TenantID:       jc.tenant.ID,
		LeadID:         jc.lead.ID,
		ConversationID: jc.conversation.ID,
		MessageID:      jc.message.ID,
	}

	// 4. sanitize
	sanitized := o.sanitizer.Sanitize(jc.message.Content)
	res.Flags = sanitized.Flags
	if len(sanitized.Flags) > 0 {
		if err := o.store.SetInjectionFlags(ctx, jc.tenant.ID, jc.message.ID, sanitized.Flags); err != nil {
			return Result{}, fmt.Errorf("persist injection flags: %w", err)
		}
	}
	if incident, ok := security.SanitizationIncident(ref, sanitized, jc.message.Content); ok {
		if err := o.recordIncident(ctx, log, incident); err != nil {
			return Result{}, err
		}
	}

	// 5. prompts
	history, err := o.store.ListRecentMessages(ctx, jc.tenant.ID, jc.conversation.ID, jc.message.ID, HistoryTurns)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}
	systemPrompt, userPrompt := BuildPrompts(jc.tenant, jc.lead, history, sanitized.CleanMessage)

	// 6. AI call through breaker and retry
	resp, aiErr := o.callAI(ctx, systemPrompt, userPrompt)

	var (
		reply            string
		sender           = domain.SenderAI
		validationFailed bool
		validation       = domain.Accepted()
		metadata         = map[string]any{}
	)
	if aiErr != nil {
		breakerOpen := circuitbreaker.IsOpen(aiErr)
		log.Warn("pipeline: ai call failed, using fallback",
			"conversationId", jc.conversation.ID,
			"breakerOpen", breakerOpen,
			"error", aiErr,
		)
		o.metrics.Fallback("ai_failure")
		if err := o.recordIncident(ctx, log, security.AIFailureIncident(ref, aiErr, breakerOpen)); err != nil {
			log.Error("pipeline: failed to record ai failure incident", "error", err)
		}
		reply = fallbackText(jc.tenant)
		sender = domain.SenderSystem
		metadata["fallback"] = "ai_failure"
		metadata["error"] = aiErr.Error()
	} else {
		// 7. parse
		res.Turn = ParseAIResponse(resp.RawText)

		// 8. validate
		validation = o.validator.Validate(res.Turn.ResponseText, security.TenantContextFrom(jc.tenant))
		if validation.Valid {
			reply = res.Turn.ResponseText
		} else {
			validationFailed = true
			// A rejected reply never falls back to tenant text.
			reply = GenericFallbackMessage
			sender = domain.SenderSystem
			metadata["fallback"] = "validation_failure"
			metadata["validationReason"] = string(validation.Reason)
			o.metrics.Fallback("validation_failure")
			incident, _ := security.ValidationIncident(ref, validation, res.Turn.ResponseText)
			if err := o.recordIncident(ctx, log, incident); err != nil {
				log.Error("pipeline: failed to record validation incident", "error", err)
			}
		}
		metadata["intent"] = string(res.Turn.Intent)
		metadata["confidence"] = res.Turn.Confidence
		metadata["tokensUsed"] = resp.TokensUsed
		metadata["responseTimeMs"] = resp.ResponseTime.Milliseconds()
		metadata["model"] = resp.Model
		if len(res.Turn.ExtractedInfo) > 0 {
			metadata["extractedInfo"] = res.Turn.ExtractedInfo
		}
	}
	res.Reply = reply

	// 9. persist the outbound message
	outbound := domain.Message{
		ID:             uuid.New(),
		TenantID:       jc.tenant.ID,
		ConversationID: jc.conversation.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     sender,
		Content:        reply,
		Metadata:       metadata,
		CreatedAt:      o.now(),
	}
	if err := o.store.InsertMessage(ctx, outbound); err != nil {
		return Result{}, fmt.Errorf("persist reply: %w", err)
	}

	// 10. score
	score := jc.lead.Score
	if aiErr == nil {
		scored, err := o.scoring.UpdateScore(ctx, jc.lead, res.Turn.ScoreDelta, jc.tenant.HandoffRules, actorAI)
		if err != nil {
			log.Error("pipeline: score update failed", "leadId", jc.lead.ID, "error", err)
		} else {
			score = scored.NewScore
		}
	}

	// 11. decide
	if aiErr != nil {
		res.Decision = handoff.AIFailureDecision(aiErr)
	} else {
		res.Decision = handoff.Decide(handoff.DecisionInput{
			ValidationFailed: validationFailed,
			ValidationReason: validation.Reason,
			ExplicitRequest:  sanitized.ExplicitHandoff(),
			Turn:             res.Turn,
			Score:            score,
			AITurns:          jc.conversation.AIMessagesCount + 1,
			Rules:            jc.tenant.HandoffRules,
		})
	}

	// 12. handoff
	if res.Decision.ShouldHandoff {
		if err := o.triggerHandoff(ctx, log, jc, res.Decision); err != nil {
			return o.abortOnTransition(log, err)
		}
	}

	// 13. deliver
	o.deliver(ctx, log, jc, reply)

	// 14. counters
	if err := o.store.RecordAITurn(ctx, jc.tenant.ID, jc.conversation.ID, resp.Model); err != nil {
		log.Error("pipeline: failed to record ai turn", "conversationId", jc.conversation.ID, "error", err)
	}

	res.Outcome = OutcomeReplied
	if sender == domain.SenderSystem {
		res.Outcome = OutcomeFallback
	}
	log.Info("pipeline: message processed",
		"conversationId", jc.conversation.ID,
		"outcome", res.Outcome,
		"handoff", res.Decision.ShouldHandoff,
		"handoffSource", res.Decision.Source,
		"durationMs", o.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) load(ctx context.Context, job domain.ProcessingJob) (jobContext, error) {
	var jc jobContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := o.store.GetTenant(gctx, job.TenantID)
		if err != nil {
			return fmt.Errorf("load tenant %s: %w", job.TenantID, err)
		}
		jc.tenant = t
		return nil
	})
	g.Go(func() error {
		l, err := o.store.GetLead(gctx, job.TenantID, job.LeadID)
		if err != nil {
			return fmt.Errorf("load lead %s: %w", job.LeadID, err)
		}
		jc.lead = l
		return nil
	})
	g.Go(func() error {
		c, err := o.store.GetConversation(gctx, job.TenantID, job.ConversationID)
		if err != nil {
			return fmt.Errorf("load conversation %s: %w", job.ConversationID, err)
		}
		jc.conversation = c
		return nil
	})
	g.Go(func() error {
		m, err := o.store.GetMessage(gctx, job.TenantID, job.MessageID)
		if err != nil {
			return fmt.Errorf("load message %s: %w", job.MessageID, err)
		}
		jc.message = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return jobContext{}, err
	}
	if jc.message.ConversationID != jc.conversation.ID {
		return jobContext{}, fmt.Errorf("message %s does not belong to conversation %s: %w", job.MessageID, job.ConversationID, domain.ErrNotFound)
	}
	return jc, nil
}

// callAI skips retries entirely when the breaker rejects the call.
func (o *Orchestrator) callAI(ctx context.Context, systemPrompt, userPrompt string) (ports.AIResponse, error) {
	start := o.now()
	resp, err := circuitbreaker.Do(ctx, o.breaker, func(ctx context.Context) (ports.AIResponse, error) {
		return retry.Do(ctx, o.retry, func(ctx context.Context) (ports.AIResponse, error) {
			return o.ai.Call(ctx, systemPrompt, userPrompt)
		})
	})
	outcome := "success"
	switch {
	case circuitbreaker.IsOpen(err):
		outcome = "breaker_open"
	case err != nil:
		outcome = "error"
	}
	o.metrics.AICall(outcome, o.now().Sub(start))
	return resp, err
}

func (o *Orchestrator) triggerHandoff(ctx context.Context, log *logger.Logger, jc jobContext, decision domain.HandoffDecision) error {
	if jc.conversation.Status != domain.StatusAI {
		// Already waiting for an agent; the pending handoff stands.
		log.Info("pipeline: handoff already pending", "conversationId", jc.conversation.ID, "source", decision.Source)
		return nil
	}
	o.metrics.Handoff(string(decision.Source))
	err := o.handoff.TriggerHandoff(ctx, handoff.TriggerRequest{
		TenantID:       jc.tenant.ID,
		ConversationID: jc.conversation.ID,
		LeadID:         jc.lead.ID,
		Reason:         decision.Reason,
		Source:         decision.Source,
		Rules:          jc.tenant.HandoffRules,
	})
	if errors.Is(err, handoff.ErrFollowUpFailed) {
		// The transition committed; the sweeper re-enqueues a lost timeout.
		log.Error("pipeline: handoff side effects failed", "conversationId", jc.conversation.ID, "error", err)
		return nil
	}
	return err
}

func (o *Orchestrator) deliver(ctx context.Context, log *logger.Logger, jc jobContext, text string) {
	adapter, err := o.channels.Resolve(ctx, jc.tenant)
	if err != nil {
		log.Error("pipeline: no channel adapter for tenant", "tenantId", jc.tenant.ID, "channel", jc.tenant.Channel, "error", err)
		o.metrics.Delivery("unavailable")
		return
	}
	if _, err := adapter.SendMessage(ctx, jc.lead.Phone, text); err != nil {
		log.Error("pipeline: delivery failed", "leadId", jc.lead.ID, "conversationId", jc.conversation.ID, "error", err)
		o.metrics.Delivery("failed")
		return
	}
	o.metrics.Delivery("sent")
}

func (o *Orchestrator) recordIncident(ctx context.Context, log *logger.Logger, incident domain.SecurityIncident) error {
	incident.CreatedAt = o.now()
	if err := o.store.InsertSecurityIncident(ctx, incident); err != nil {
		return fmt.Errorf("persist security incident: %w", err)
	}
	log.SecurityIncident(string(incident.Type), string(incident.Severity),
		"detectionLayer", incident.DetectionLayer,
		"actionTaken", incident.ActionTaken,
		"conversationId", incident.ConversationID,
		"flags", incident.Flags,
	)
	o.metrics.SecurityIncident(string(incident.Type))
	if o.bus != nil {
		o.bus.Publish(ctx, events.SecurityIncidentRecorded{
			BaseEvent:      events.NewBaseEvent(),
			TenantID:       incident.TenantID,
			ConversationID: incident.ConversationID,
			IncidentType:   string(incident.Type),
			Severity:       string(incident.Severity),
			DetectionLayer: incident.DetectionLayer,
		})
	}
	return nil
}

func (o *Orchestrator) abortOnTransition(log *logger.Logger, err error) (Result, error) {
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Warn("pipeline: aborting job on invalid transition", "error", err)
		return Result{Outcome: OutcomeAborted}, err
	}
	return Result{}, err
}

func fallbackText(tenant domain.Tenant) string {
	if tenant.FallbackMessage != nil && *tenant.FallbackMessage != "" {
		return *tenant.FallbackMessage
	}
	return GenericFallbackMessage
}
