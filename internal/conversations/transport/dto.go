package transport

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessageRequest is a channel message already normalised by the gateway webhook.
type InboundMessageRequest struct {
	TenantID   uuid.UUID  `json:"tenantId" validate:"required"`
	Channel    string     `json:"channel" validate:"required,oneof=whatsapp"`
	Phone      string     `json:"phone" validate:"required,max=32,phone"`
	SenderName string     `json:"senderName,omitempty" validate:"omitempty,max=120"`
	Text       string     `json:"text" validate:"required,max=8000"`
	ExternalID string     `json:"externalId" validate:"required,max=200"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

type InboundMessageResponse struct {
	LeadID         uuid.UUID `json:"leadId"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId,omitempty"`
	Duplicate      bool      `json:"duplicate"`
	Enqueued       bool      `json:"enqueued"`
}

type ListConversationsRequest struct {
	Status string `form:"status" validate:"omitempty,oneof=ai waiting_human human closed"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=200"`
}

type ListMessagesRequest struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

type ConversationResponse struct {
	ID                 uuid.UUID  `json:"id"`
	LeadID             uuid.UUID  `json:"leadId"`
	Channel            string     `json:"channel"`
	Status             string     `json:"status"`
	AssignedAgentID    *uuid.UUID `json:"assignedAgentId,omitempty"`
	HandoffReason      *string    `json:"handoffReason,omitempty"`
	AIMessagesCount    int        `json:"aiMessagesCount"`
	HumanMessagesCount int        `json:"humanMessagesCount"`
	LeadMessagesCount  int        `json:"leadMessagesCount"`
	OpenedAt           time.Time  `json:"openedAt"`
	HandoffAt          *time.Time `json:"handoffAt,omitempty"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type ConversationListResponse struct {
	Items []ConversationResponse `json:"items"`
}

type MessageResponse struct {
	ID         uuid.UUID  `json:"id"`
	Direction  string     `json:"direction"`
	SenderType string     `json:"senderType"`
	SenderID   *uuid.UUID `json:"senderId,omitempty"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type MessageListResponse struct {
	Items []MessageResponse `json:"items"`
}

type HumanReplyRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4096"`
}

type HumanReplyResponse struct {
	Message        MessageResponse `json:"message"`
	DeliveryStatus string          `json:"deliveryStatus"`
	ExternalID     string          `json:"externalId,omitempty"`
}

type BreakerStatusResponse struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}
