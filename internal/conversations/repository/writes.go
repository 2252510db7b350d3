package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// writer holds the writes shared by the pool-backed repository and transactions.
type writer struct {
	q DBTX
}

// TransitionConversation applies a compare-and-swap status update. When the row
// exists with another status the returned error is an *domain.InvalidTransitionError
// naming the actual current status.
func (w writer) TransitionConversation(ctx context.Context, t domain.ConversationTransition) (domain.Conversation, error) {
	if err := domain.ValidateTransition(t.From, t.To); err != nil {
		return domain.Conversation{}, err
	}

	conv, err := scanConversation(w.q.QueryRow(ctx, `
		UPDATE conversations
		SET status = $4,
			assigned_agent_id = $5,
			handoff_reason = $6,
			handoff_at = $7,
			closed_at = $8,
			updated_at = $9
		WHERE tenant_id = $1 AND id = $2 AND status = $3
		RETURNING `+conversationColumns,
		t.TenantID, t.ConversationID, string(t.From), string(t.To),
		t.AssignedAgentID, t.HandoffReason, t.HandoffAt, t.ClosedAt, t.At,
	))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, err
	}

	var current string
	err = w.q.QueryRow(ctx, `
		SELECT status FROM conversations WHERE tenant_id = $1 AND id = $2
	`, t.TenantID, t.ConversationID).Scan(&current)
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return domain.Conversation{}, &domain.InvalidTransitionError{From: domain.ConversationStatus(current), To: t.To}
}

func (w writer) UpdateLeadStage(ctx context.Context, tenantID, leadID uuid.UUID, stage domain.LeadStage) error {
	tag, err := w.q.Exec(ctx, `
		UPDATE leads SET stage = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, leadID, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (w writer) UpdateLeadScore(ctx context.Context, tenantID, leadID uuid.UUID, score int, stage domain.LeadStage) error {
	tag, err := w.q.Exec(ctx, `
		UPDATE leads SET score = $3, stage = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, leadID, score, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage stores a message. A second inbound message with the same
// external id yields domain.ErrDuplicateMessage.
func (w writer) InsertMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	flags := msg.InjectionFlags
	if flags == nil {
		flags = []string{}
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO messages
		(id, tenant_id, conversation_id, direction, sender_type, sender_id, content, external_id, injection_flags, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
	`, msg.ID, msg.TenantID, msg.ConversationID, string(msg.Direction), string(msg.SenderType), msg.SenderID,
		msg.Content, msg.ExternalID, flags, metadata, nullTime(msg.CreatedAt))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateMessage
	}
	return err
}

func (w writer) InsertLeadEvent(ctx context.Context, event domain.LeadEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO lead_events (id, tenant_id, lead_id, event_type, actor_type, actor_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
	`, event.ID, event.TenantID, event.LeadID, string(event.EventType), event.ActorType, event.ActorID, data, nullTime(event.CreatedAt))
	return err
}

// IncrementAgentLoad bumps the agent's active conversation counter in the database.
func (w writer) IncrementAgentLoad(ctx context.Context, tenantID, agentID uuid.UUID) error {
	tag, err := w.q.Exec(ctx, `
		UPDATE agents SET active_conversations = active_conversations + 1
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// DecrementAgentLoad never drives the counter below zero. A deleted agent is ignored.
func (w writer) DecrementAgentLoad(ctx context.Context, tenantID, agentID uuid.UUID) error {
	_, err := w.q.Exec(ctx, `
		UPDATE agents SET active_conversations = GREATEST(active_conversations - 1, 0)
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, agentID)
	return err
}

func (w writer) InsertSecurityIncident(ctx context.Context, inc domain.SecurityIncident) error {
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	flags := inc.Flags
	if flags == nil {
		flags = []string{}
	}
	details := inc.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := w.q.Exec(ctx, `
		INSERT INTO security_incidents
		(id, tenant_id, lead_id, conversation_id, message_id, incident_type, severity, detection_layer, action_taken, flags, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
	`, inc.ID, inc.TenantID, inc.LeadID, inc.ConversationID, inc.MessageID, string(inc.Type), string(inc.Severity),
		inc.DetectionLayer, inc.ActionTaken, flags, details, nullTime(inc.CreatedAt))
	return err
}

func (w writer) SetInjectionFlags(ctx context.Context, tenantID, messageID uuid.UUID, flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	_, err := w.q.Exec(ctx, `
		UPDATE messages SET injection_flags = $3
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, messageID, flags)
	return err
}

// RecordAITurn increments the AI counter and stores the model label when one is given.
func (w writer) RecordAITurn(ctx context.Context, tenantID, conversationID uuid.UUID, model string) error {
	_, err := w.q.Exec(ctx, `
		UPDATE conversations
		SET ai_messages_count = ai_messages_count + 1,
			last_model = COALESCE(NULLIF($3, ''), last_model),
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, conversationID, model)
	return err
}

func (w writer) IncrementLeadMessages(ctx context.Context, tenantID, conversationID uuid.UUID) error {
	_, err := w.q.Exec(ctx, `
		UPDATE conversations SET lead_messages_count = lead_messages_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, conversationID)
	return err
}

func (w writer) IncrementHumanMessages(ctx context.Context, tenantID, conversationID uuid.UUID) error {
	_, err := w.q.Exec(ctx, `
		UPDATE conversations SET human_messages_count = human_messages_count + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, conversationID)
	return err
}

// DeleteSecurityIncidentsBefore removes incidents created before the cutoff.
func (w writer) DeleteSecurityIncidentsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := w.q.Exec(ctx, `DELETE FROM security_incidents WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
