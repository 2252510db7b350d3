package handoff

import (
	"fmt"

	"chatflow_backend/internal/conversations/domain"
	"chatflow_backend/internal/conversations/scoring"
)

// DecisionInput is everything the handoff policy looks at for one turn.
type DecisionInput struct {
	ValidationFailed bool
	ValidationReason domain.ValidationReason
	ExplicitRequest  bool
	Turn             domain.AiTurnResult
	// Score is the lead score after this turn's delta was applied.
	Score int
	// AITurns is the AI message count including this turn.
	AITurns int
	Rules   domain.HandoffRules
}

// Decide evaluates the handoff rules in precedence order; the first rule that fires wins.
func Decide(in DecisionInput) domain.HandoffDecision {
	switch {
	case in.ValidationFailed:
		return handoff(domain.SourceValidationFailure, fmt.Sprintf("AI response failed validation: %s", in.ValidationReason))
	case in.ExplicitRequest:
		return handoff(domain.SourceExplicit, "Lead asked to talk to a human")
	case in.Turn.ShouldHandoff:
		reason := "AI requested handoff"
		if in.Turn.HandoffReason != nil && *in.Turn.HandoffReason != "" {
			reason = *in.Turn.HandoffReason
		}
		return handoff(domain.SourceAI, reason)
	case in.Turn.Confidence < domain.ConfidenceHandoffFloor:
		return handoff(domain.SourceConfidence, fmt.Sprintf("Low AI confidence (%d)", in.Turn.Confidence))
	case in.Rules.TriggersOnIntent(in.Turn.Intent):
		return handoff(domain.SourceIntent, fmt.Sprintf("Intent %q requires a human", in.Turn.Intent))
	case scoring.ShouldAutoHandoff(in.Score, in.Rules):
		return handoff(domain.SourceScore, fmt.Sprintf("Lead score %d reached threshold %d", in.Score, in.Rules.ScoreThreshold))
	case in.Rules.MaxAITurns > 0 && in.AITurns >= in.Rules.MaxAITurns:
		return handoff(domain.SourceMaxTurns, fmt.Sprintf("AI turn limit reached (%d)", in.Rules.MaxAITurns))
	}
	return domain.HandoffDecision{}
}

// AIFailureDecision is the handoff forced when the AI could not produce a reply.
func AIFailureDecision(cause error) domain.HandoffDecision {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return handoff(domain.SourceAIFailure, "AI service failure: "+msg)
}

func handoff(source domain.DecisionSource, reason string) domain.HandoffDecision {
	return domain.HandoffDecision{ShouldHandoff: true, Reason: reason, Source: source}
}
