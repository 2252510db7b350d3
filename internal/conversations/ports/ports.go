// Package ports defines consumer-driven interfaces for the collaborators of the
// conversations core: the AI service, channel adapters and the durable job queue.
// Implementations live in internal/aiservice, internal/whatsapp and internal/scheduler.
package ports

import (
	"context"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
)

// AIResponse is the raw output of one AI call.
type AIResponse struct {
	RawText      string
	TokensUsed   int
	ResponseTime time.Duration
	Model        string
}

// AIService generates a reply for a system and user prompt pair.
// Errors may be transient; callers wrap it with retry and circuit breaking.
type AIService interface {
	Call(ctx context.Context, systemPrompt, userPrompt string) (AIResponse, error)
}

// DeliveryResult reports what the channel did with an outbound message.
type DeliveryResult struct {
	ExternalID string
	Status     string
}

// ChannelAdapter delivers text to a lead on one messaging channel.
type ChannelAdapter interface {
	SendMessage(ctx context.Context, destination, text string) (DeliveryResult, error)
}

// ChannelResolver picks the adapter configured for a tenant.
type ChannelResolver interface {
	Resolve(ctx context.Context, tenant domain.Tenant) (ChannelAdapter, error)
}

// JobScheduler is the durable queue surface used by the handoff workflow.
type JobScheduler interface {
	// ScheduleHandoffTimeout registers the timeout job for a conversation, replacing any pending one.
	ScheduleHandoffTimeout(ctx context.Context, tenantID, conversationID uuid.UUID, delay time.Duration) error
	// CancelHandoffTimeout removes a pending timeout job. Missing jobs are not an error.
	CancelHandoffTimeout(ctx context.Context, conversationID uuid.UUID) error
	EnqueueAgentNotification(ctx context.Context, notification domain.AgentNotification) error
}
