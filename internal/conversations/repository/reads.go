package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, tenant_id, lead_id, channel, status, assigned_agent_id, handoff_reason,
	ai_messages_count, human_messages_count, lead_messages_count, last_model,
	opened_at, closed_at, handoff_at, updated_at`

const leadColumns = `id, tenant_id, name, phone, score, stage, tags, created_at, updated_at`

const messageColumns = `id, tenant_id, conversation_id, direction, sender_type, sender_id, content,
	external_id, injection_flags, metadata, created_at`

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var c domain.Conversation
	var status string
	err := row.Scan(
		&c.ID, &c.TenantID, &c.LeadID, &c.Channel, &status, &c.AssignedAgentID, &c.HandoffReason,
		&c.AIMessagesCount, &c.HumanMessagesCount, &c.LeadMessagesCount, &c.LastModel,
		&c.OpenedAt, &c.ClosedAt, &c.HandoffAt, &c.UpdatedAt,
	)
	c.Status = domain.ConversationStatus(status)
	return c, err
}

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	var stage string
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Phone, &l.Score, &stage, &l.Tags, &l.CreatedAt, &l.UpdatedAt)
	l.Stage = domain.LeadStage(stage)
	return l, err
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var direction, sender string
	err := row.Scan(
		&m.ID, &m.TenantID, &m.ConversationID, &direction, &sender, &m.SenderID, &m.Content,
		&m.ExternalID, &m.InjectionFlags, &m.Metadata, &m.CreatedAt,
	)
	m.Direction = domain.MessageDirection(direction)
	m.SenderType = domain.SenderType(sender)
	return m, err
}

// GetTenant loads a tenant and decodes its handoff rules.
func (r *Repository) GetTenant(ctx context.Context, tenantID uuid.UUID) (domain.Tenant, error) {
	var t domain.Tenant
	var rawRules []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, business_description, business_context, tone, fallback_message, channel, handoff_rules, created_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(
		&t.ID, &t.Name, &t.BusinessDescription, &t.BusinessContext, &t.Tone, &t.FallbackMessage, &t.Channel, &rawRules, &t.CreatedAt,
	)
	if err != nil {
		return domain.Tenant{}, notFound(err)
	}

	rules, err := domain.ParseHandoffRules(rawRules)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("tenant %s handoff rules: %w", tenantID, err)
	}
	t.HandoffRules = rules
	return t, nil
}

func (r *Repository) GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, leadID))
	if err != nil {
		return domain.Lead{}, notFound(err)
	}
	return lead, nil
}

func (r *Repository) GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, conversationID))
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return conv, nil
}

func (r *Repository) GetMessage(ctx context.Context, tenantID, messageID uuid.UUID) (domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, messageID))
	if err != nil {
		return domain.Message{}, notFound(err)
	}
	return msg, nil
}

// ListRecentMessages returns up to limit messages created before the given one, oldest first.
func (r *Repository) ListRecentMessages(ctx context.Context, tenantID, conversationID, beforeMessageID uuid.UUID, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT m.*
			FROM messages m
			WHERE m.tenant_id = $1
				AND m.conversation_id = $2
				AND m.id <> $3
				AND m.created_at <= COALESCE((SELECT created_at FROM messages WHERE id = $3), now())
			ORDER BY m.created_at DESC
			LIMIT $4
		) recent
		ORDER BY created_at ASC
	`, tenantID, conversationID, beforeMessageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// ListConversations returns a tenant's conversations, most recently updated first.
// An empty status lists every open conversation.
func (r *Repository) ListConversations(ctx context.Context, tenantID uuid.UUID, status domain.ConversationStatus, limit int) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1
			AND (($2 = '' AND status <> 'closed') OR status = $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`, tenantID, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// ListMessages returns the latest messages of a conversation, oldest first.
func (r *Repository) ListMessages(ctx context.Context, tenantID, conversationID uuid.UUID, limit int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT * FROM messages
			WHERE tenant_id = $1 AND conversation_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		) latest
		ORDER BY created_at ASC
	`, tenantID, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, msg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// ListActiveAgents returns the agents of a tenant that can receive handoffs, least loaded first.
func (r *Repository) ListActiveAgents(ctx context.Context, tenantID uuid.UUID) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, email, is_active, active_conversations
		FROM agents
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY active_conversations ASC, name ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.IsActive, &a.ActiveConversations); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return agents, nil
}

// GetAgent loads one agent of a tenant.
func (r *Repository) GetAgent(ctx context.Context, tenantID, agentID uuid.UUID) (domain.Agent, error) {
	var a domain.Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, is_active, active_conversations
		FROM agents
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, agentID).Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.IsActive, &a.ActiveConversations)
	if err != nil {
		return domain.Agent{}, notFound(err)
	}
	return a, nil
}

// ListOverdueHandoffs returns conversations still in waiting_human well past their
// tenant's handoff timeout. The timeout is read from the follow_up_delay_hours rule
// and defaults to 30 minutes.
func (r *Repository) ListOverdueHandoffs(ctx context.Context, grace time.Duration, limit int) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("c", conversationColumns)+`
		FROM conversations c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE c.status = 'waiting_human'
			AND c.handoff_at IS NOT NULL
			AND c.handoff_at + make_interval(secs => COALESCE((t.handoff_rules->>'follow_up_delay_hours')::float8 * 3600, 1800))
				< now() - make_interval(secs => $1)
		ORDER BY c.handoff_at ASC
		LIMIT $2
	`, grace.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, conv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
