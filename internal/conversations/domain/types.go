package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intent is the closed set of intents the AI may report.
type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentQuestion      Intent = "question"
	IntentPricing       Intent = "pricing"
	IntentPurchase      Intent = "purchase"
	IntentScheduling    Intent = "scheduling"
	IntentSupport       Intent = "support"
	IntentComplaint     Intent = "complaint"
	IntentHumanRequest  Intent = "human_request"
	IntentNotInterested Intent = "not_interested"
	IntentGoodbye       Intent = "goodbye"
	IntentOther         Intent = "other"
)

var knownIntents = map[Intent]struct{}{
	IntentGreeting:      {},
	IntentQuestion:      {},
	IntentPricing:       {},
	IntentPurchase:      {},
	IntentScheduling:    {},
	IntentSupport:       {},
	IntentComplaint:     {},
	IntentHumanRequest:  {},
	IntentNotInterested: {},
	IntentGoodbye:       {},
	IntentOther:         {},
}

// NormalizeIntent maps free text onto the closed enumeration, defaulting to IntentOther.
func NormalizeIntent(value string) Intent {
	candidate := Intent(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := knownIntents[candidate]; ok {
		return candidate
	}
	return IntentOther
}

const (
	MinConfidence = 0
	MaxConfidence = 100
	MinScoreDelta = -50
	MaxScoreDelta = 30
	// ConfidenceHandoffFloor is the confidence below which the conversation is handed off.
	ConfidenceHandoffFloor = 70
)

// AiTurnResult is the parsed, clamped AI output for one turn.
type AiTurnResult struct {
	ResponseText  string         `json:"response"`
	Intent        Intent         `json:"intent"`
	Confidence    int            `json:"confidence"`
	ShouldHandoff bool           `json:"should_handoff"`
	HandoffReason *string        `json:"handoff_reason,omitempty"`
	ScoreDelta    int            `json:"score_delta"`
	ExtractedInfo map[string]any `json:"extracted_info,omitempty"`
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(v int) int {
	return clamp(v, MinConfidence, MaxConfidence)
}

// ClampScoreDelta bounds a score delta to [-50,+30].
func ClampScoreDelta(v int) int {
	return clamp(v, MinScoreDelta, MaxScoreDelta)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidationReason is the closed taxonomy of response policy violations.
type ValidationReason string

const (
	ReasonEmpty        ValidationReason = "empty"
	ReasonTooShort     ValidationReason = "too_short"
	ReasonTooLong      ValidationReason = "too_long"
	ReasonPromptLeak   ValidationReason = "prompt_leak"
	ReasonIdentityLeak ValidationReason = "identity_leak"
	ReasonOverPromise  ValidationReason = "over_promise"
	ReasonOffTopic     ValidationReason = "off_topic"
)

// Severity grades incidents and policy violations.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ValidationResult is the outcome of response policy validation.
type ValidationResult struct {
	Valid    bool
	Reason   ValidationReason
	Severity Severity
}

// Accepted is the valid ValidationResult.
func Accepted() ValidationResult {
	return ValidationResult{Valid: true}
}

// Rejected builds an invalid ValidationResult.
func Rejected(reason ValidationReason, severity Severity) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason, Severity: severity}
}

// DecisionSource names the rule that fired in a handoff decision.
type DecisionSource string

const (
	SourceValidationFailure DecisionSource = "validation_failure"
	SourceExplicit          DecisionSource = "explicit"
	SourceAI                DecisionSource = "ai"
	SourceConfidence        DecisionSource = "confidence"
	SourceIntent            DecisionSource = "intent"
	SourceScore             DecisionSource = "score"
	SourceMaxTurns          DecisionSource = "max_turns"
	SourceAIFailure         DecisionSource = "ai_failure"
)

// HandoffDecision is the outcome of evaluating the handoff policy.
type HandoffDecision struct {
	ShouldHandoff bool
	Reason        string
	Source        DecisionSource
}

// IncidentType classifies a persisted security incident.
type IncidentType string

const (
	IncidentInjectionAttempt IncidentType = "injection_attempt"
	IncidentPromptLeak       IncidentType = "prompt_leak"
	IncidentIdentityLeak     IncidentType = "identity_leak"
	IncidentOffTopic         IncidentType = "off_topic"
	IncidentOverPromise      IncidentType = "over_promise"
	IncidentValidationFailed IncidentType = "validation_failed"
	IncidentAIFailure        IncidentType = "ai_failure"
)

const (
	LayerSanitization = "sanitization"
	LayerValidation   = "validation"
	LayerAIService    = "ai_service"

	ActionBlocked      = "blocked"
	ActionReplaced     = "replaced_with_fallback"
	ActionFallbackSent = "fallback_sent"
)

// SecurityIncident is a persisted record of an injection attempt or policy violation.
type SecurityIncident struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	LeadID         *uuid.UUID
	ConversationID *uuid.UUID
	MessageID      *uuid.UUID
	Type           IncidentType
	Severity       Severity
	DetectionLayer string
	ActionTaken    string
	Flags          []string
	Details        map[string]any
	CreatedAt      time.Time
}

// AgentNotification asks the notification worker to alert a tenant's agents about a handoff.
type AgentNotification struct {
	TenantID       uuid.UUID `json:"tenantId" validate:"required"`
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
	LeadID         uuid.UUID `json:"leadId" validate:"required"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source,omitempty"`
}

// ConversationTransition is a compare-and-swap status update. The store applies
// it only while the row still has status From and overwrites the handoff fields.
type ConversationTransition struct {
	TenantID        uuid.UUID
	ConversationID  uuid.UUID
	From            ConversationStatus
	To              ConversationStatus
	AssignedAgentID *uuid.UUID
	HandoffReason   *string
	HandoffAt       *time.Time
	ClosedAt        *time.Time
	At              time.Time
}

// InboundMessage is a channel message normalised by the webhook adapter.
type InboundMessage struct {
	TenantID   uuid.UUID
	Channel    string
	Phone      string
	SenderName string
	Text       string
	ExternalID string
	ReceivedAt time.Time
}

// IngestResult reports the records touched by storing one inbound message.
type IngestResult struct {
	Lead         Lead
	Conversation Conversation
	Message      Message
}
