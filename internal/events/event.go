// Package events defines the conversation and lead events published on the
// in-process bus. The bus itself lives in platform/events.
package events

import (
	"chatflow_backend/platform/events"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates the process-local bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// LeadStageChanged is published when a score update moves a lead into another band.
type LeadStageChanged struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	LeadID   uuid.UUID `json:"leadId"`
	OldStage string    `json:"oldStage"`
	NewStage string    `json:"newStage"`
	Score    int       `json:"score"`
	Actor    string    `json:"actor"`
}

func (e LeadStageChanged) EventName() string { return "leads.stage_changed" }

// ConversationHandedOff is published after a conversation moves to waiting_human.
type ConversationHandedOff struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	LeadID         uuid.UUID `json:"leadId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source"`
}

func (e ConversationHandedOff) EventName() string { return "conversations.handed_off" }

// ConversationAssigned is published when an agent claims a waiting conversation.
type ConversationAssigned struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	AgentID        uuid.UUID `json:"agentId"`
}

func (e ConversationAssigned) EventName() string { return "conversations.assigned" }

// ConversationReturnedToAI is published when a conversation goes back to the AI,
// either by an agent or by the handoff timeout.
type ConversationReturnedToAI struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
	Reason         string     `json:"reason"`
}

func (e ConversationReturnedToAI) EventName() string { return "conversations.returned_to_ai" }

// ConversationClosed is published when an agent closes a conversation.
type ConversationClosed struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	AgentID        *uuid.UUID `json:"agentId,omitempty"`
}

func (e ConversationClosed) EventName() string { return "conversations.closed" }

// SecurityIncidentRecorded is published after an incident row is written.
type SecurityIncidentRecorded struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	IncidentType   string     `json:"incidentType"`
	Severity       string     `json:"severity"`
	DetectionLayer string     `json:"detectionLayer"`
}

func (e SecurityIncidentRecorded) EventName() string { return "security.incident_recorded" }
