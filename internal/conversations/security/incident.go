package security

import (
	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

// excerptLength bounds the offending text copied into incident details.
const excerptLength = 200

// IncidentRef identifies the records an incident is attached to.
type IncidentRef struct {
	TenantID       uuid.UUID
	LeadID         uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
}

func (r IncidentRef) incident() domain.SecurityIncident {
	inc := domain.SecurityIncident{
		ID:       uuid.New(),
		TenantID: r.TenantID,
		Details:  map[string]any{},
	}
	if r.LeadID != uuid.Nil {
		id := r.LeadID
		inc.LeadID = &id
	}
	if r.ConversationID != uuid.Nil {
		id := r.ConversationID
		inc.ConversationID = &id
	}
	if r.MessageID != uuid.Nil {
		id := r.MessageID
		inc.MessageID = &id
	}
	return inc
}

// SanitizationIncident returns an injection_attempt incident when the sanitizer raised
// injection flags. Results carrying only explicit_handoff or truncated are not incidents.
func SanitizationIncident(ref IncidentRef, result SanitizeResult, rawInput string) (domain.SecurityIncident, bool) {
	injection := result.InjectionFlags()
	if len(injection) == 0 {
		return domain.SecurityIncident{}, false
	}
	inc := ref.incident()
	inc.Type = domain.IncidentInjectionAttempt
	inc.Severity = domain.SeverityHigh
	inc.DetectionLayer = domain.LayerSanitization
	inc.ActionTaken = domain.ActionBlocked
	inc.Flags = injection
	inc.Details["input"] = excerpt(rawInput)
	return inc, true
}

// IncidentTypeForReason maps a validation reason onto the incident taxonomy.
func IncidentTypeForReason(reason domain.ValidationReason) domain.IncidentType {
	switch reason {
	case domain.ReasonPromptLeak:
		return domain.IncidentPromptLeak
	case domain.ReasonIdentityLeak:
		return domain.IncidentIdentityLeak
	case domain.ReasonOffTopic:
		return domain.IncidentOffTopic
	case domain.ReasonOverPromise:
		return domain.IncidentOverPromise
	default:
		return domain.IncidentValidationFailed
	}
}

// ValidationIncident returns the incident for a rejected response. Valid results yield none.
func ValidationIncident(ref IncidentRef, result domain.ValidationResult, response string) (domain.SecurityIncident, bool) {
	if result.Valid {
		return domain.SecurityIncident{}, false
	}
	severity := result.Severity
	if severity == "" {
		severity = domain.SeverityLow
	}
	inc := ref.incident()
	inc.Type = IncidentTypeForReason(result.Reason)
	inc.Severity = severity
	inc.DetectionLayer = domain.LayerValidation
	inc.ActionTaken = domain.ActionReplaced
	inc.Details["reason"] = string(result.Reason)
	inc.Details["response"] = excerpt(response)
	return inc, true
}

// AIFailureIncident records a fallback caused by the AI service failing.
func AIFailureIncident(ref IncidentRef, cause error, breakerOpen bool) domain.SecurityIncident {
	inc := ref.incident()
	inc.Type = domain.IncidentAIFailure
	inc.Severity = domain.SeverityMedium
	inc.DetectionLayer = domain.LayerAIService
	inc.ActionTaken = domain.ActionFallbackSent
	if cause != nil {
		inc.Details["error"] = cause.Error()
	}
	inc.Details["breakerOpen"] = breakerOpen
	return inc
}

func excerpt(s string) string {
	clipped, _ := sanitize.Truncate(s, excerptLength)
	return clipped
}
