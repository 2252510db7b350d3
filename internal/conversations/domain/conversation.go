// Package domain provides core business rules for the conversations bounded context.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusAI           ConversationStatus = "ai"
	StatusWaitingHuman ConversationStatus = "waiting_human"
	StatusHuman        ConversationStatus = "human"
	StatusClosed       ConversationStatus = "closed"
)

// LeadStage is the categorical funnel position of a lead.
type LeadStage string

const (
	StageNew        LeadStage = "new"
	StageQualifying LeadStage = "qualifying"
	StageHot        LeadStage = "hot"
	StageHuman      LeadStage = "human"
	StageConverted  LeadStage = "converted"
	StageLost       LeadStage = "lost"
)

// IsSticky reports whether the stage is owned by a workflow rather than the score bands.
func (s LeadStage) IsSticky() bool {
	return s == StageHuman || s == StageConverted || s == StageLost
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderLead   SenderType = "lead"
	SenderAI     SenderType = "ai"
	SenderHuman  SenderType = "human"
	SenderSystem SenderType = "system"
)

// MessageDirection distinguishes inbound from outbound messages.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ProcessingJob is the immutable input to one pipeline run.
type ProcessingJob struct {
	TenantID       uuid.UUID `json:"tenantId" validate:"required"`
	LeadID         uuid.UUID `json:"leadId" validate:"required"`
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
	MessageID      uuid.UUID `json:"messageId" validate:"required"`
	CorrelationID  string    `json:"correlationId,omitempty"`
}

// Tenant holds business context and handoff configuration for one customer account.
type Tenant struct {
	ID                  uuid.UUID
	Name                string
	BusinessDescription string
	BusinessContext     string
	Tone                string
	FallbackMessage     *string
	Channel             string
	HandoffRules        HandoffRules
	CreatedAt           time.Time
}

// Lead is the scoring/stage subject.
type Lead struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Phone     string
	Score     int
	Stage     LeadStage
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a per-lead, per-channel dialogue session.
type Conversation struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	LeadID             uuid.UUID
	Channel            string
	Status             ConversationStatus
	AssignedAgentID    *uuid.UUID
	HandoffReason      *string
	AIMessagesCount    int
	HumanMessagesCount int
	LeadMessagesCount  int
	LastModel          *string
	OpenedAt           time.Time
	ClosedAt           *time.Time
	HandoffAt          *time.Time
	UpdatedAt          time.Time
}

// Message is one stored chat message.
type Message struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Direction      MessageDirection
	SenderType     SenderType
	SenderID       *uuid.UUID
	Content        string
	ExternalID     *string
	InjectionFlags []string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// LeadEventType names an audit event on a lead.
type LeadEventType string

const (
	EventHandoff      LeadEventType = "handoff"
	EventAssigned     LeadEventType = "assigned"
	EventUnassigned   LeadEventType = "unassigned"
	EventClosed       LeadEventType = "closed"
	EventReopened     LeadEventType = "reopened"
	EventStageChanged LeadEventType = "stage_changed"
)

// LeadEvent is an append-only audit record on a lead.
type LeadEvent struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	EventType LeadEventType
	ActorType string
	ActorID   *uuid.UUID
	Data      map[string]any
	CreatedAt time.Time
}

// Agent is a human operator that can own conversations.
type Agent struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Name                string
	Email               string
	IsActive            bool
	ActiveConversations int
}
