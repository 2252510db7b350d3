// Package email renders and sends agent-facing emails.
package email

import (
	"context"

	"chatflow_backend/platform/config"
)

// HandoffEmail is the data of a "lead waiting for an agent" alert.
type HandoffEmail struct {
	AgentName    string
	TenantName   string
	LeadName     string
	LeadPhone    string
	Reason       string
	Source       string
	LastMessage  string
	Conversation string
}

type Sender interface {
	SendHandoffEmail(ctx context.Context, toEmail string, data HandoffEmail) error
}

type NoopSender struct{}

func (NoopSender) SendHandoffEmail(context.Context, string, HandoffEmail) error { return nil }

// NewSender returns an SMTP sender when SMTP is configured and a NoopSender otherwise.
func NewSender(cfg config.SMTPConfig) Sender {
	if !cfg.IsSMTPEnabled() {
		return NoopSender{}
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	)
}
