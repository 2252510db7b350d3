package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultScoreThreshold  = 80
	DefaultQualifyingScore = 20
	DefaultMaxAITurns      = 15
	// DefaultHandoffTimeout applies when follow_up_delay_hours is not configured.
	DefaultHandoffTimeout = 30 * time.Minute
	// MaxFollowUpDelayHours bounds follow_up_delay_hours to 30 days.
	MaxFollowUpDelayHours = 720
)

// HandoffRules is the tenant's handoff configuration, decoded and validated once at load time.
type HandoffRules struct {
	ScoreThreshold     int      `json:"score_threshold" validate:"gte=0"`
	QualifyingScore    int      `json:"qualifying_score" validate:"gte=0,ltefield=ScoreThreshold"`
	MaxAITurns         int      `json:"max_ai_turns" validate:"gte=1"`
	BusinessHoursOnly  bool     `json:"business_hours_only"`
	HandoffIntents     []Intent `json:"handoff_intents" validate:"dive,required"`
	AutoHandoffOnPrice bool     `json:"auto_handoff_on_price"`
	FollowUpEnabled    bool     `json:"follow_up_enabled"`
	// FollowUpDelayHours is nil when unset; the handoff timeout then uses DefaultHandoffTimeout.
	FollowUpDelayHours *float64 `json:"follow_up_delay_hours,omitempty" validate:"omitempty,gt=0,lte=720"`
}

// rawHandoffRules mirrors the stored JSON with every field optional.
type rawHandoffRules struct {
	ScoreThreshold     *int     `json:"score_threshold"`
	QualifyingScore    *int     `json:"qualifying_score"`
	MaxAITurns         *int     `json:"max_ai_turns"`
	BusinessHoursOnly  *bool    `json:"business_hours_only"`
	HandoffIntents     []string `json:"handoff_intents"`
	AutoHandoffOnPrice *bool    `json:"auto_handoff_on_price"`
	FollowUpEnabled    *bool    `json:"follow_up_enabled"`
	FollowUpDelayHours *float64 `json:"follow_up_delay_hours"`
}

var rulesValidator = validator.New()

// DefaultHandoffRules returns the rules applied to tenants without configuration.
func DefaultHandoffRules() HandoffRules {
	return HandoffRules{
		ScoreThreshold:  DefaultScoreThreshold,
		QualifyingScore: DefaultQualifyingScore,
		MaxAITurns:      DefaultMaxAITurns,
		HandoffIntents:  []Intent{},
	}
}

// ParseHandoffRules decodes stored JSON, fills documented defaults and validates the result.
// Empty input yields DefaultHandoffRules.
func ParseHandoffRules(data []byte) (HandoffRules, error) {
	rules := DefaultHandoffRules()
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		return rules, nil
	}

	var raw rawHandoffRules
	if err := json.Unmarshal(data, &raw); err != nil {
		return HandoffRules{}, fmt.Errorf("decode handoff rules: %w", err)
	}

	if raw.ScoreThreshold != nil {
		rules.ScoreThreshold = *raw.ScoreThreshold
	}
	if raw.QualifyingScore != nil {
		rules.QualifyingScore = *raw.QualifyingScore
	}
	if raw.MaxAITurns != nil {
		rules.MaxAITurns = *raw.MaxAITurns
	}
	if raw.BusinessHoursOnly != nil {
		rules.BusinessHoursOnly = *raw.BusinessHoursOnly
	}
	if raw.AutoHandoffOnPrice != nil {
		rules.AutoHandoffOnPrice = *raw.AutoHandoffOnPrice
	}
	if raw.FollowUpEnabled != nil {
		rules.FollowUpEnabled = *raw.FollowUpEnabled
	}
	rules.FollowUpDelayHours = raw.FollowUpDelayHours
	for _, name := range raw.HandoffIntents {
		rules.HandoffIntents = append(rules.HandoffIntents, NormalizeIntent(name))
	}
	if rules.QualifyingScore > rules.ScoreThreshold {
		rules.QualifyingScore = rules.ScoreThreshold
	}

	if err := rulesValidator.Struct(rules); err != nil {
		return HandoffRules{}, fmt.Errorf("invalid handoff rules: %w", err)
	}
	return rules, nil
}

// HandoffTimeout is how long a conversation may wait for an agent before reverting to AI.
func (r HandoffRules) HandoffTimeout() time.Duration {
	if r.FollowUpDelayHours == nil || *r.FollowUpDelayHours <= 0 {
		return DefaultHandoffTimeout
	}
	hours := min(*r.FollowUpDelayHours, MaxFollowUpDelayHours)
	return time.Duration(hours * float64(time.Hour))
}

// TriggersOnIntent reports whether the intent is configured to force a handoff.
// auto_handoff_on_price adds the pricing intent to the configured list.
func (r HandoffRules) TriggersOnIntent(intent Intent) bool {
	if r.AutoHandoffOnPrice && intent == IntentPricing {
		return true
	}
	for _, candidate := range r.HandoffIntents {
		if candidate == intent {
			return true
		}
	}
	return false
}
