// Package notification keeps agents informed about conversations that need them:
// handoff emails, and dashboard events relayed over Redis pub/sub to SSE clients.
// It subscribes to conversation events on the bus so the conversations core does
// not know about email providers or connected dashboards.
package notification

import (
	"context"
	"time"

	"chatflow_backend/internal/events"
	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Module forwards bus events to agent dashboards.
type Module struct {
	events EventPublisher
	log    *logger.Logger
}

func New(publisher EventPublisher, log *logger.Logger) *Module {
	return &Module{events: publisher, log: log}
}

// RegisterHandlers subscribes the module to conversation events. Handoff requests
// are announced by the notification task, which carries the lead details.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ConversationAssigned{}.EventName(), events.HandlerFunc(m.handleAssigned))
	bus.Subscribe(events.ConversationReturnedToAI{}.EventName(), events.HandlerFunc(m.handleReturned))
	bus.Subscribe(events.ConversationClosed{}.EventName(), events.HandlerFunc(m.handleClosed))
	bus.Subscribe(events.SecurityIncidentRecorded{}.EventName(), events.HandlerFunc(m.handleIncident))
}

func (m *Module) handleAssigned(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ConversationAssigned)
	if !ok {
		return nil
	}
	return m.forward(ctx, sse.Event{
		Type:           sse.EventConversationAssigned,
		TenantID:       e.TenantID,
		ConversationID: e.ConversationID,
		Data:           map[string]any{"agentId": e.AgentID},
		At:             occurredAt(e),
	})
}

func (m *Module) handleReturned(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ConversationReturnedToAI)
	if !ok {
		return nil
	}
	return m.forward(ctx, sse.Event{
		Type:           sse.EventReturnedToAI,
		TenantID:       e.TenantID,
		ConversationID: e.ConversationID,
		Message:        e.Reason,
		Data:           agentData(e.AgentID),
		At:             occurredAt(e),
	})
}

func (m *Module) handleClosed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ConversationClosed)
	if !ok {
		return nil
	}
	return m.forward(ctx, sse.Event{
		Type:           sse.EventConversationClosed,
		TenantID:       e.TenantID,
		ConversationID: e.ConversationID,
		Data:           agentData(e.AgentID),
		At:             occurredAt(e),
	})
}

func (m *Module) handleIncident(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SecurityIncidentRecorded)
	if !ok {
		return nil
	}
	out := sse.Event{
		Type:     sse.EventSecurityIncident,
		TenantID: e.TenantID,
		Message:  e.IncidentType,
		Data: map[string]any{
			"severity":       e.Severity,
			"detectionLayer": e.DetectionLayer,
		},
		At: occurredAt(e),
	}
	if e.ConversationID != nil {
		out.ConversationID = *e.ConversationID
	}
	return m.forward(ctx, out)
}

func (m *Module) forward(ctx context.Context, event sse.Event) error {
	if err := m.events.Publish(ctx, event); err != nil {
		m.log.Warn("notification: failed to forward agent event", "type", event.Type, "tenantId", event.TenantID, "error", err)
		return err
	}
	return nil
}

func agentData(agentID *uuid.UUID) map[string]any {
	if agentID == nil {
		return nil
	}
	return map[string]any{"agentId": *agentID}
}

func occurredAt(event events.Event) time.Time {
	if at := event.OccurredAt(); !at.IsZero() {
		return at
	}
	return time.Now()
}
