package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/email"
	"chatflow_backend/internal/notification/sse"
	"chatflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Directory reads what a handoff alert needs to address and describe.
type Directory interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error)
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	ListActiveAgents(ctx context.Context, tenantID uuid.UUID) ([]domain.Agent, error)
}

// EventPublisher delivers agent events to connected dashboards.
type EventPublisher interface {
	Publish(ctx context.Context, event sse.Event) error
}

// Notifier alerts a tenant's agents that a conversation waits for a human.
type Notifier struct {
	directory Directory
	mail      email.Sender
	events    EventPublisher
	appURL    string
	log       *logger.Logger
	now       func() time.Time
}

func NewNotifier(directory Directory, mail email.Sender, events EventPublisher, appBaseURL string, log *logger.Logger) *Notifier {
	if mail == nil {
		mail = email.NoopSender{}
	}
	return &Notifier{
		directory: directory,
		mail:      mail,
		events:    events,
		appURL:    strings.TrimRight(appBaseURL, "/"),
		log:       log,
		now:       time.Now,
	}
}

// NotifyHandoff publishes the dashboard event and emails every active agent.
// Only a failed publish is returned: a retried task would re-send emails that already went out.
func (n *Notifier) NotifyHandoff(ctx context.Context, req domain.AgentNotification) error {
	tenant, err := n.directory.GetTenant(ctx, req.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	lead, err := n.directory.GetLead(ctx, req.TenantID, req.LeadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}

	if n.events != nil {
		err := n.events.Publish(ctx, sse.Event{
			Type:           sse.EventHandoffRequested,
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			LeadID:         req.LeadID,
			Message:        req.Reason,
			Data: map[string]any{
				"leadName":  lead.Name,
				"leadPhone": lead.Phone,
				"source":    req.Source,
			},
			At: n.now(),
		})
		if err != nil {
			return err
		}
	}

	agents, err := n.directory.ListActiveAgents(ctx, req.TenantID)
	if err != nil {
		n.log.Error("notification: failed to list agents", "tenantId", req.TenantID, "error", err)
		return nil
	}
	if len(agents) == 0 {
		n.log.Warn("notification: no active agents for handoff", "tenantId", req.TenantID, "conversationId", req.ConversationID)
		return nil
	}

	sent := 0
	for _, agent := range agents {
		if agent.Email == "" {
			continue
		}
		err := n.mail.SendHandoffEmail(ctx, agent.Email, email.HandoffEmail{
			AgentName:    agent.Name,
			TenantName:   tenant.Name,
			LeadName:     lead.Name,
			LeadPhone:    lead.Phone,
			Reason:       req.Reason,
			Source:       req.Source,
			Conversation: n.conversationURL(req.ConversationID),
		})
		if err != nil {
			n.log.Error("notification: handoff email failed", "agentId", agent.ID, "conversationId", req.ConversationID, "error", err)
			continue
		}
		sent++
	}

	n.log.Info("notification: handoff alert sent", "tenantId", req.TenantID, "conversationId", req.ConversationID, "emails", sent)
	return nil
}

func (n *Notifier) conversationURL(conversationID uuid.UUID) string {
	if n.appURL == "" {
		return ""
	}
	return n.appURL + "/conversations/" + conversationID.String()
}
