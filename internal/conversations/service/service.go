// Package service implements the agent and webhook use cases of the conversations context.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/ports"
	"chatflow_backend/internal/conversations/transport"
	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/logger"
	"chatflow_backend/platform/phone"
	"chatflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultConversationLimit = 50
	defaultMessageLimit      = 100

	deliveryFailed = "failed"
)

// Store is the persistence surface used by the service.
type Store interface {
	IngestInbound(ctx context.Context, in domain.InboundMessage) (domain.IngestResult, error)
	GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error)
	GetAgent(ctx context.Context, tenantID, agentID uuid.UUID) (domain.Agent, error)
	ListConversations(ctx context.Context, tenantID uuid.UUID, status domain.ConversationStatus, limit int) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]domain.Message, error)
	RecordHumanReply(ctx context.Context, msg domain.Message) error
}

// Queue accepts processing jobs for the worker.
type Queue interface {
	EnqueueProcessing(ctx context.Context, job domain.ProcessingJob) error
}

// Lifecycle is the part of the handoff state machine driven by agents.
type Lifecycle interface {
	AssignToAgent(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (domain.Conversation, error)
	ReturnToAI(ctx context.Context, tenantID, conversationID uuid.UUID, actorID *uuid.UUID) (domain.Conversation, error)
	CloseConversation(ctx context.Context, tenantID, conversationID uuid.UUID, actorID *uuid.UUID) (domain.Conversation, error)
}

// Service provides business logic for inbound messages and agent actions.
type Service struct {
	store     Store
	queue     Queue
	lifecycle Lifecycle
	channels  ports.ChannelResolver
	log       *logger.Logger
	region    string
	now       func() time.Time
}

// New creates a new conversations service.
func New(store Store, queue Queue, lifecycle Lifecycle, channels ports.ChannelResolver, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		queue:     queue,
		lifecycle: lifecycle,
		channels:  channels,
		log:       log,
		region:    phone.DefaultRegion,
		now:       time.Now,
	}
}

// WithPhoneRegion sets the region used for inbound numbers without a country code.
func (s *Service) WithPhoneRegion(region string) *Service {
	if region != "" {
		s.region = region
	}
	return s
}

// IngestInbound stores a webhook message and queues it for the pipeline. A
// redelivered message is acknowledged without being queued again.
func (s *Service) IngestInbound(ctx context.Context, req transport.InboundMessageRequest) (transport.InboundMessageResponse, error) {
	text := sanitize.StripControl(req.Text)
	if strings.TrimSpace(text) == "" {
		return transport.InboundMessageResponse{}, apperr.Validation("message text is empty")
	}

	receivedAt := s.now()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = *req.ReceivedAt
	}

	result, err := s.store.IngestInbound(ctx, domain.InboundMessage{
		TenantID:   req.TenantID,
		Channel:    req.Channel,
		Phone:      phone.NormalizeE164(req.Phone, s.region),
		SenderName: sanitize.Text(req.SenderName),
		Text:       text,
		ExternalID: strings.TrimSpace(req.ExternalID),
		ReceivedAt: receivedAt,
	})
	if errors.Is(err, domain.ErrDuplicateMessage) {
		s.log.Info("conversations: duplicate inbound message ignored", "tenantId", req.TenantID, "externalId", req.ExternalID)
		return transport.InboundMessageResponse{Duplicate: true}, nil
	}
	if err != nil {
		return transport.InboundMessageResponse{}, mapError(err, "tenant not found")
	}

	job := domain.ProcessingJob{
		TenantID:       req.TenantID,
		LeadID:         result.Lead.ID,
		ConversationID: result.Conversation.ID,
		MessageID:      result.Message.ID,
		CorrelationID:  result.Message.ID.String(),
	}
	if err := s.queue.EnqueueProcessing(ctx, job); err != nil {
		s.log.Error("conversations: failed to enqueue processing job", "messageId", job.MessageID, "error", err)
		return transport.InboundMessageResponse{}, apperr.Wrap(apperr.KindUnavailable, "message queue unavailable", err)
	}

	return transport.InboundMessageResponse{
		LeadID:         result.Lead.ID,
		ConversationID: result.Conversation.ID,
		MessageID:      result.Message.ID,
		Enqueued:       true,
	}, nil
}

func (s *Service) ListConversations(ctx context.Context, tenantID uuid.UUID, req transport.ListConversationsRequest) (transport.ConversationListResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	items, err := s.store.ListConversations(ctx, tenantID, domain.ConversationStatus(req.Status), limit)
	if err != nil {
		s.log.DatabaseError("list conversations", err)
		return transport.ConversationListResponse{}, err
	}
	out := make([]transport.ConversationResponse, 0, len(items))
	for _, conv := range items {
		out = append(out, mapConversation(conv))
	}
	return transport.ConversationListResponse{Items: out}, nil
}

func (s *Service) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, req transport.ListMessagesRequest) (transport.MessageListResponse, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		return transport.MessageListResponse{}, mapError(err, "conversation not found")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	items, err := s.store.ListMessages(ctx, tenantID, conversationID, limit)
	if err != nil {
		s.log.DatabaseError("list messages", err)
		return transport.MessageListResponse{}, err
	}
	out := make([]transport.MessageResponse, 0, len(items))
	for _, msg := range items {
		out = append(out, mapMessage(msg))
	}
	return transport.MessageListResponse{Items: out}, nil
}

// Claim assigns a waiting conversation to the calling agent.
func (s *Service) Claim(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (transport.ConversationResponse, error) {
	agent, err := s.store.GetAgent(ctx, tenantID, agentID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !agent.IsActive) {
		return transport.ConversationResponse{}, apperr.Forbidden("agent is not active for this tenant")
	}
	if err != nil {
		return transport.ConversationResponse{}, err
	}

	conv, err := s.lifecycle.AssignToAgent(ctx, tenantID, conversationID, agentID)
	if err != nil {
		return transport.ConversationResponse{}, mapError(err, "conversation not found")
	}
	return mapConversation(conv), nil
}

func (s *Service) ReturnToAI(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (transport.ConversationResponse, error) {
	conv, err := s.lifecycle.ReturnToAI(ctx, tenantID, conversationID, &agentID)
	if err != nil {
		return transport.ConversationResponse{}, mapError(err, "conversation not found")
	}
	return mapConversation(conv), nil
}

func (s *Service) Close(ctx context.Context, tenantID, conversationID, agentID uuid.UUID) (transport.ConversationResponse, error) {
	conv, err := s.lifecycle.CloseConversation(ctx, tenantID, conversationID, &agentID)
	if err != nil {
		return transport.ConversationResponse{}, mapError(err, "conversation not found")
	}
	return mapConversation(conv), nil
}

// SendHumanReply stores an agent message and delivers it to the lead. Only the
// agent owning a conversation in the human state may reply. The message is kept
// even when delivery fails; the response reports the delivery status.
func (s *Service) SendHumanReply(ctx context.Context, tenantID, conversationID, agentID uuid.UUID, req transport.HumanReplyRequest) (transport.HumanReplyResponse, error) {
	text := strings.TrimSpace(sanitize.StripControl(req.Text))
	if text == "" {
		return transport.HumanReplyResponse{}, apperr.Validation("reply text is empty")
	}

	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return transport.HumanReplyResponse{}, mapError(err, "conversation not found")
	}
	if conv.Status != domain.StatusHuman {
		return transport.HumanReplyResponse{}, apperr.Conflict("conversation is not handled by a human")
	}
	if conv.AssignedAgentID == nil || *conv.AssignedAgentID != agentID {
		return transport.HumanReplyResponse{}, apperr.Forbidden("conversation is assigned to another agent")
	}

	sender := agentID
	msg := domain.Message{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderHuman,
		SenderID:       &sender,
		Content:        text,
		CreatedAt:      s.now(),
	}
	if err := s.store.RecordHumanReply(ctx, msg); err != nil {
		s.log.DatabaseError("record human reply", err)
		return transport.HumanReplyResponse{}, err
	}

	resp := transport.HumanReplyResponse{Message: mapMessage(msg), DeliveryStatus: deliveryFailed}
	delivery, err := s.deliver(ctx, tenantID, conv.LeadID, text)
	if err != nil {
		s.log.Warn("conversations: human reply delivery failed", "conversationId", conversationID, "agentId", agentID, "error", err)
		return resp, nil
	}
	resp.DeliveryStatus = delivery.Status
	resp.ExternalID = delivery.ExternalID
	return resp, nil
}

func (s *Service) deliver(ctx context.Context, tenantID, leadID uuid.UUID, text string) (ports.DeliveryResult, error) {
	if s.channels == nil {
		return ports.DeliveryResult{}, errors.New("no channel resolver configured")
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return ports.DeliveryResult{}, err
	}
	lead, err := s.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return ports.DeliveryResult{}, err
	}
	adapter, err := s.channels.Resolve(ctx, tenant)
	if err != nil {
		return ports.DeliveryResult{}, err
	}
	return adapter.SendMessage(ctx, lead.Phone, text)
}

func mapError(err error, notFoundMsg string) error {
	var transition *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, notFoundMsg, err)
	case errors.As(err, &transition):
		return apperr.Wrap(apperr.KindConflict, transition.Error(), err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperr.Wrap(apperr.KindConflict, "invalid conversation transition", err)
	default:
		return err
	}
}

func mapConversation(c domain.Conversation) transport.ConversationResponse {
	return transport.ConversationResponse{
		ID:                 c.ID,
		LeadID:             c.LeadID,
		Channel:            c.Channel,
		Status:             string(c.Status),
		AssignedAgentID:    c.AssignedAgentID,
		HandoffReason:      c.HandoffReason,
		AIMessagesCount:    c.AIMessagesCount,
		HumanMessagesCount: c.HumanMessagesCount,
		LeadMessagesCount:  c.LeadMessagesCount,
		OpenedAt:           c.OpenedAt,
		HandoffAt:          c.HandoffAt,
		ClosedAt:           c.ClosedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func mapMessage(m domain.Message) transport.MessageResponse {
	return transport.MessageResponse{
		ID:         m.ID,
		Direction:  string(m.Direction),
		SenderType: string(m.SenderType),
		SenderID:   m.SenderID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
