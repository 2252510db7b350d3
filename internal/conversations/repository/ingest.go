package repository

import (
	"context"
	"fmt"
	"time"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IngestInbound stores an inbound message in one transaction: the lead and its
// conversation are created on first contact, the message is deduplicated on its
// external id and the lead message counter is bumped.
func (r *Repository) IngestInbound(ctx context.Context, in domain.InboundMessage) (domain.IngestResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lead, err := scanLead(tx.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, phone, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, phone) DO UPDATE
		SET name = CASE WHEN leads.name = '' THEN EXCLUDED.name ELSE leads.name END
		RETURNING `+leadColumns,
		in.TenantID, in.Phone, in.SenderName,
	))
	if isForeignKeyViolation(err) {
		return domain.IngestResult{}, fmt.Errorf("tenant %s: %w", in.TenantID, ErrNotFound)
	}
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("upsert lead: %w", err)
	}

	conv, err := scanConversation(tx.QueryRow(ctx, `
		INSERT INTO conversations (tenant_id, lead_id, channel)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, lead_id, channel) DO UPDATE
		SET updated_at = now()
		RETURNING `+conversationColumns,
		in.TenantID, lead.ID, in.Channel,
	))
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("upsert conversation: %w", err)
	}

	msg := domain.Message{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		SenderType:     domain.SenderLead,
		Content:        in.Text,
		CreatedAt:      in.ReceivedAt,
	}
	if in.ExternalID != "" {
		externalID := in.ExternalID
		msg.ExternalID = &externalID
	}

	w := writer{q: tx}
	if err := w.InsertMessage(ctx, msg); err != nil {
		return domain.IngestResult{}, err
	}
	if err := w.IncrementLeadMessages(ctx, in.TenantID, conv.ID); err != nil {
		return domain.IngestResult{}, fmt.Errorf("increment lead messages: %w", err)
	}
	conv.LeadMessagesCount++

	if err := tx.Commit(ctx); err != nil {
		return domain.IngestResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return domain.IngestResult{Lead: lead, Conversation: conv, Message: msg}, nil
}

// RecordHumanReply stores an agent-authored message and bumps the human message counter.
func (r *Repository) RecordHumanReply(ctx context.Context, msg domain.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w := writer{q: tx}
	if err := w.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("insert human reply: %w", err)
	}
	if err := w.IncrementHumanMessages(ctx, msg.TenantID, msg.ConversationID); err != nil {
		return fmt.Errorf("increment human messages: %w", err)
	}
	return tx.Commit(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
