// Package handoff owns the conversation lifecycle between the AI and human agents.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/events"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// Reason recorded on unassigned events written by the timeout job.
	ReasonTimeout = "timeout"

	actorSystem = "system"
	actorAgent  = "agent"
)

// ErrFollowUpFailed marks errors raised after the handoff transaction committed.
// The conversation already waits for an agent; only the follow-up jobs are missing.
var ErrFollowUpFailed = errors.New("handoff committed but follow-up failed")

// Default texts. Tenants do not customise these yet.
const (
	handoffNotice  = "Vou transferir você para um dos nossos atendentes. Em instantes alguém continua esta conversa."
	timeoutApology = "Desculpe a demora! Nossos atendentes estão ocupados no momento, mas sigo aqui para ajudar no que precisar."
	returnedNotice = "Atendimento retornado ao assistente automático."
	closedNotice   = "Atendimento encerrado."
)

// Store is the persistence surface of the state machine.
type Store interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error)
	// WithTx runs fn in one transaction. Any error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes applied atomically by one state machine operation.
type Tx interface {
	// TransitionConversation applies a compare-and-swap status update. It returns an
	// *domain.InvalidTransitionError when the row no longer has the expected status.
	TransitionConversation(ctx context.Context, t domain.ConversationTransition) (domain.Conversation, error)
	UpdateLeadStage(ctx context.Context, tenantID, leadID uuid.UUID, stage domain.LeadStage) error
	InsertMessage(ctx context.Context, msg domain.Message) error
	InsertLeadEvent(ctx context.Context, event domain.LeadEvent) error
	IncrementAgentLoad(ctx context.Context, tenantID, agentID uuid.UUID) error
	DecrementAgentLoad(ctx context.Context, tenantID, agentID uuid.UUID) error
}

// TriggerRequest carries the inputs of TriggerHandoff.
type TriggerRequest struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	LeadID         uuid.UUID
	Reason         string
	Source         domain.DecisionSource
	Rules          domain.HandoffRules
}

// StateMachine enforces the legal status transitions and performs their side effects.
type StateMachine struct {
	store     Store
	scheduler ports.JobScheduler
	channels  ports.ChannelResolver
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

func NewStateMachine(store Store, scheduler ports.JobScheduler, channels ports.ChannelResolver, bus events.Bus, log *logger.Logger) *StateMachine {
	return &StateMachine{
		store:     store,
		scheduler: scheduler,
		channels:  channels,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// TriggerHandoff moves the conversation to waiting_human, schedules the timeout
// and asks for agents to be notified. A missing conversation is a no-op.
func (m *StateMachine) TriggerHandoff(ctx context.Context, req TriggerRequest) error {
	conv, err := m.store.GetConversation(ctx, req.TenantID, req.ConversationID)
	if errors.Is(err, domain.ErrNotFound) {
		m.log.Warn("handoff: conversation not found, skipping handoff", "conversationId", req.ConversationID, "tenantId", req.TenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if err := domain.ValidateTransition(conv.Status, domain.StatusWaitingHuman); err != nil {
		return err
	}

	now := m.now()
	reason := req.Reason
	err = m.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			From:           conv.Status,
			To:             domain.StatusWaitingHuman,
			HandoffReason:  &reason,
			HandoffAt:      &now,
			At:             now,
		}); err != nil {
			return err
		}
		if err := tx.UpdateLeadStage(ctx, req.TenantID, req.LeadID, domain.StageHuman); err != nil {
			return fmt.Errorf("update lead stage: %w", err)
		}
		if err := tx.InsertMessage(ctx, systemMessage(conv, handoffNotice, now, map[string]any{
			"transition": string(domain.StatusWaitingHuman),
			"reason":     reason,
		})); err != nil {
			return fmt.Errorf("insert handoff message: %w", err)
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventHandoff, actorSystem, nil, now, map[string]any{
			"conversationId": conv.ID.String(),
			"reason":         reason,
			"source":         string(req.Source),
		}))
	})
	if err != nil {
		return fmt.Errorf("trigger handoff: %w", err)
	}

	m.log.Info("handoff: conversation waiting for agent",
		"conversationId", conv.ID,
		"tenantId", req.TenantID,
		"reason", reason,
		"source", req.Source,
	)
	m.publish(ctx, events.ConversationHandedOff{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       req.TenantID,
		LeadID:         req.LeadID,
		ConversationID: conv.ID,
		Reason:         reason,
		Source:         string(req.Source),
	})

	if err := m.scheduler.ScheduleHandoffTimeout(ctx, req.TenantID, conv.ID, req.Rules.HandoffTimeout()); err != nil {
		return fmt.Errorf("%w: schedule handoff timeout: %w", ErrFollowUpFailed, err)
	}
	if err := m.scheduler.EnqueueAgentNotification(ctx, domain.AgentNotification{
		TenantID:       req.TenantID,
		ConversationID: conv.ID,
		LeadID:         req.LeadID,
		Reason:         reason,
		Source:         string(req.Source),
	}); err != nil {
		return fmt.Errorf("%w: enqueue agent notification: %w", ErrFollowUpFailed, err)
	}
	return nil
}

// AssignToAgent lets an agent claim a conversation that is waiting for a human.
func (m *StateMachine) AssignToAgent(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (domain.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if err := domain.ValidateTransition(conv.Status, domain.StatusHuman); err != nil {
		return domain.Conversation{}, err
	}

	now := m.now()
	var updated domain.Conversation
	err = m.store.WithTx(ctx, func(tx Tx) error {
		agent := agentID
		updated, err = tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:        tenantID,
			ConversationID:  conversationID,
			From:            conv.Status,
			To:              domain.StatusHuman,
			AssignedAgentID: &agent,
			HandoffReason:   conv.HandoffReason,
			HandoffAt:       conv.HandoffAt,
			At:              now,
		})
		if err != nil {
			return err
		}
		if err := tx.IncrementAgentLoad(ctx, tenantID, agentID); err != nil {
			return fmt.Errorf("increment agent load: %w", err)
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventAssigned, actorAgent, &agent, now, map[string]any{
			"conversationId": conv.ID.String(),
		}))
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("assign conversation: %w", err)
	}

	if err := m.scheduler.CancelHandoffTimeout(ctx, conversationID); err != nil {
		// The timeout handler ignores conversations that are no longer waiting.
		m.log.Warn("handoff: failed to cancel timeout", "conversationId", conversationID, "error", err)
	}

	m.log.Info("handoff: conversation assigned", "conversationId", conversationID, "agentId", agentID)
	m.publish(ctx, events.ConversationAssigned{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		AgentID:        agentID,
	})
	return updated, nil
}

// ReturnToAI hands a human or waiting conversation back to the AI.
// actorID is the agent performing the action, nil for system callers.
func (m *StateMachine) ReturnToAI(ctx context.Context, tenantID, conversationID uuid.UUID, actorID *uuid.UUID) (domain.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if err := domain.ValidateTransition(conv.Status, domain.StatusAI); err != nil {
		return domain.Conversation{}, err
	}
	if conv.Status == domain.StatusClosed {
		// closed -> ai is a reopen, not a return.
		return domain.Conversation{}, &domain.InvalidTransitionError{From: conv.Status, To: domain.StatusAI}
	}

	now := m.now()
	var updated domain.Conversation
	err = m.store.WithTx(ctx, func(tx Tx) error {
		updated, err = tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:       tenantID,
			ConversationID: conversationID,
			From:           conv.Status,
			To:             domain.StatusAI,
			At:             now,
		})
		if err != nil {
			return err
		}
		if conv.AssignedAgentID != nil {
			if err := tx.DecrementAgentLoad(ctx, tenantID, *conv.AssignedAgentID); err != nil {
				return fmt.Errorf("decrement agent load: %w", err)
			}
		}
		if err := tx.UpdateLeadStage(ctx, tenantID, conv.LeadID, domain.StageQualifying); err != nil {
			return fmt.Errorf("update lead stage: %w", err)
		}
		if err := tx.InsertMessage(ctx, systemMessage(conv, returnedNotice, now, map[string]any{
			"transition": string(domain.StatusAI),
		})); err != nil {
			return fmt.Errorf("insert return message: %w", err)
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventUnassigned, actorType(actorID), actorID, now, map[string]any{
			"conversationId": conv.ID.String(),
			"reason":         "returned_to_ai",
			"previousStatus": string(conv.Status),
		}))
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("return conversation to ai: %w", err)
	}

	if conv.Status == domain.StatusWaitingHuman {
		if err := m.scheduler.CancelHandoffTimeout(ctx, conversationID); err != nil {
			m.log.Warn("handoff: failed to cancel timeout", "conversationId", conversationID, "error", err)
		}
	}

	m.log.Info("handoff: conversation returned to ai", "conversationId", conversationID, "previousStatus", conv.Status)
	m.publish(ctx, events.ConversationReturnedToAI{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		AgentID:        actorID,
		Reason:         "returned_to_ai",
	})
	return updated, nil
}

// CloseConversation ends a human-owned conversation.
func (m *StateMachine) CloseConversation(ctx context.Context, tenantID, conversationID uuid.UUID, actorID *uuid.UUID) (domain.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if err := domain.ValidateTransition(conv.Status, domain.StatusClosed); err != nil {
		return domain.Conversation{}, err
	}

	now := m.now()
	var updated domain.Conversation
	err = m.store.WithTx(ctx, func(tx Tx) error {
		updated, err = tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:        tenantID,
			ConversationID:  conversationID,
			From:            conv.Status,
			To:              domain.StatusClosed,
			AssignedAgentID: conv.AssignedAgentID,
			HandoffReason:   conv.HandoffReason,
			HandoffAt:       conv.HandoffAt,
			ClosedAt:        &now,
			At:              now,
		})
		if err != nil {
			return err
		}
		if conv.AssignedAgentID != nil {
			if err := tx.DecrementAgentLoad(ctx, tenantID, *conv.AssignedAgentID); err != nil {
				return fmt.Errorf("decrement agent load: %w", err)
			}
		}
		if err := tx.InsertMessage(ctx, systemMessage(conv, closedNotice, now, map[string]any{
			"transition": string(domain.StatusClosed),
		})); err != nil {
			return fmt.Errorf("insert close message: %w", err)
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventClosed, actorType(actorID), actorID, now, map[string]any{
			"conversationId": conv.ID.String(),
		}))
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("close conversation: %w", err)
	}

	m.log.Info("handoff: conversation closed", "conversationId", conversationID)
	m.publish(ctx, events.ConversationClosed{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		AgentID:        actorID,
	})
	return updated, nil
}

// HandleTimeout reverts a conversation nobody claimed. It does nothing unless the
// status is exactly waiting_human, so a late or duplicate timeout is harmless.
func (m *StateMachine) HandleTimeout(ctx context.Context, tenantID, conversationID uuid.UUID) error {
	conv, err := m.store.GetConversation(ctx, tenantID, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		m.log.Warn("handoff: timeout for missing conversation", "conversationId", conversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.Status != domain.StatusWaitingHuman {
		m.log.Debug("handoff: timeout ignored", "conversationId", conversationID, "status", conv.Status)
		return nil
	}

	now := m.now()
	err = m.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:       tenantID,
			ConversationID: conversationID,
			From:           domain.StatusWaitingHuman,
			To:             domain.StatusAI,
			At:             now,
		}); err != nil {
			return err
		}
		if err := tx.UpdateLeadStage(ctx, tenantID, conv.LeadID, domain.StageQualifying); err != nil {
			return fmt.Errorf("update lead stage: %w", err)
		}
		if err := tx.InsertMessage(ctx, systemMessage(conv, timeoutApology, now, map[string]any{
			"transition": string(domain.StatusAI),
			"reason":     ReasonTimeout,
		})); err != nil {
			return fmt.Errorf("insert apology message: %w", err)
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventUnassigned, actorSystem, nil, now, map[string]any{
			"conversationId": conv.ID.String(),
			"reason":         ReasonTimeout,
		}))
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// An agent claimed the conversation between the read and the write.
		m.log.Info("handoff: timeout lost race with agent claim", "conversationId", conversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle handoff timeout: %w", err)
	}

	m.log.Info("handoff: timeout reverted conversation to ai", "conversationId", conversationID, "tenantId", tenantID)
	m.publish(ctx, events.ConversationReturnedToAI{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Reason:         ReasonTimeout,
	})

	m.deliver(ctx, tenantID, conv.LeadID, timeoutApology)
	return nil
}

// Reopen moves a closed conversation back to the AI, reusing the same record.
func (m *StateMachine) Reopen(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if err := domain.ValidateTransition(conv.Status, domain.StatusAI); err != nil {
		return domain.Conversation{}, err
	}

	now := m.now()
	var updated domain.Conversation
	err := m.store.WithTx(ctx, func(tx Tx) error {
		var err error
		updated, err = tx.TransitionConversation(ctx, domain.ConversationTransition{
			TenantID:       conv.TenantID,
			ConversationID: conv.ID,
			From:           conv.Status,
			To:             domain.StatusAI,
			At:             now,
		})
		if err != nil {
			return err
		}
		data := map[string]any{"conversationId": conv.ID.String()}
		if conv.ClosedAt != nil {
			data["closedFor"] = now.Sub(*conv.ClosedAt).Round(time.Second).String()
		}
		return tx.InsertLeadEvent(ctx, leadEvent(conv, domain.EventReopened, actorSystem, nil, now, data))
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("reopen conversation: %w", err)
	}

	m.log.Info("handoff: conversation reopened", "conversationId", conv.ID)
	return updated, nil
}

// deliver sends a system text to the lead. Delivery failures are logged only.
func (m *StateMachine) deliver(ctx context.Context, tenantID, leadID uuid.UUID, text string) {
	if m.channels == nil {
		return
	}
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		m.log.Warn("handoff: cannot load tenant for delivery", "tenantId", tenantID, "error", err)
		return
	}
	lead, err := m.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		m.log.Warn("handoff: cannot load lead for delivery", "leadId", leadID, "error", err)
		return
	}
	adapter, err := m.channels.Resolve(ctx, tenant)
	if err != nil {
		m.log.Warn("handoff: no channel adapter", "tenantId", tenantID, "error", err)
		return
	}
	if _, err := adapter.SendMessage(ctx, lead.Phone, text); err != nil {
		m.log.Warn("handoff: delivery failed", "leadId", leadID, "error", err)
	}
}

func (m *StateMachine) publish(ctx context.Context, event events.Event) {
	if m.bus != nil {
		m.bus.Publish(ctx, event)
	}
}

func systemMessage(conv domain.Conversation, text string, at time.Time, metadata map[string]any) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderSystem,
		Content:        text,
		Metadata:       metadata,
		CreatedAt:      at,
	}
}

func leadEvent(conv domain.Conversation, eventType domain.LeadEventType, actor string, actorID *uuid.UUID, at time.Time, data map[string]any) domain.LeadEvent {
	return domain.LeadEvent{
		ID:        uuid.New(),
		TenantID:  conv.TenantID,
		LeadID:    conv.LeadID,
		EventType: eventType,
		ActorType: actor,
		ActorID:   actorID,
		Data:      data,
		CreatedAt: at,
	}
}

func actorType(actorID *uuid.UUID) string {
	if actorID == nil {
		return actorSystem
	}
	return actorAgent
}
