package domain

import (
	"testing"
	"time"
)

func TestParseHandoffRulesDefaults(t *testing.T) {
	for _, raw := range []string{"", "null", "{}"} {
		rules, err := ParseHandoffRules([]byte(raw))
		if err != nil {
			t.Fatalf("ParseHandoffRules(%q) error: %v", raw, err)
		}
		if rules.ScoreThreshold != DefaultScoreThreshold {
			t.Errorf("%q: ScoreThreshold = %d, want %d", raw, rules.ScoreThreshold, DefaultScoreThreshold)
		}
		if rules.MaxAITurns != DefaultMaxAITurns {
			t.Errorf("%q: MaxAITurns = %d, want %d", raw, rules.MaxAITurns, DefaultMaxAITurns)
		}
		if len(rules.HandoffIntents) != 0 {
			t.Errorf("%q: HandoffIntents = %v, want empty", raw, rules.HandoffIntents)
		}
		if got := rules.HandoffTimeout(); got != 30*time.Minute {
			t.Errorf("%q: HandoffTimeout = %s, want 30m", raw, got)
		}
	}
}

func TestParseHandoffRulesOverrides(t *testing.T) {
	raw := `{"score_threshold": 60, "max_ai_turns": 4, "handoff_intents": ["Complaint", "something_else"],
		"auto_handoff_on_price": true, "follow_up_delay_hours": 2, "business_hours_only": true}`

	rules, err := ParseHandoffRules([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.ScoreThreshold != 60 || rules.MaxAITurns != 4 {
		t.Fatalf("thresholds not applied: %+v", rules)
	}
	if !rules.BusinessHoursOnly {
		t.Errorf("BusinessHoursOnly not applied")
	}
	if got := rules.HandoffTimeout(); got != 2*time.Hour {
		t.Errorf("HandoffTimeout = %s, want 2h", got)
	}
	if !rules.TriggersOnIntent(IntentComplaint) {
		t.Errorf("expected complaint to trigger handoff")
	}
	if !rules.TriggersOnIntent(IntentOther) {
		t.Errorf("unknown configured intent should normalise to other")
	}
	if !rules.TriggersOnIntent(IntentPricing) {
		t.Errorf("auto_handoff_on_price should trigger on pricing")
	}
	if rules.TriggersOnIntent(IntentGreeting) {
		t.Errorf("greeting should not trigger handoff")
	}
}

func TestParseHandoffRulesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative threshold": `{"score_threshold": -1}`,
		"zero turns":         `{"max_ai_turns": 0}`,
		"negative delay":     `{"follow_up_delay_hours": -3}`,
		"huge delay":         `{"follow_up_delay_hours": 1e9}`,
		"malformed":          `{"score_threshold": "high"}`,
	}
	for name, raw := range cases {
		if _, err := ParseHandoffRules([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHandoffTimeoutBounded(t *testing.T) {
	rules, err := ParseHandoffRules([]byte(`{"follow_up_delay_hours": 720}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rules.HandoffTimeout(); got != 720*time.Hour {
		t.Fatalf("HandoffTimeout = %s, want 720h", got)
	}

	huge := 1e9
	rules.FollowUpDelayHours = &huge
	if got := rules.HandoffTimeout(); got != MaxFollowUpDelayHours*time.Hour {
		t.Fatalf("unbounded HandoffTimeout = %s", got)
	}
}

func TestQualifyingScoreCappedAtThreshold(t *testing.T) {
	rules, err := ParseHandoffRules([]byte(`{"score_threshold": 10}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rules.QualifyingScore != 10 {
		t.Fatalf("QualifyingScore = %d, want 10", rules.QualifyingScore)
	}
}

func TestNormalizeIntent(t *testing.T) {
	cases := map[string]Intent{
		"pricing":    IntentPricing,
		" Greeting ": IntentGreeting,
		"":           IntentOther,
		"buy_now":    IntentOther,
	}
	for in, want := range cases {
		if got := NormalizeIntent(in); got != want {
			t.Errorf("NormalizeIntent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClamps(t *testing.T) {
	if got := ClampConfidence(140); got != 100 {
		t.Errorf("ClampConfidence(140) = %d", got)
	}
	if got := ClampConfidence(-5); got != 0 {
		t.Errorf("ClampConfidence(-5) = %d", got)
	}
	if got := ClampScoreDelta(40); got != 30 {
		t.Errorf("ClampScoreDelta(40) = %d", got)
	}
	if got := ClampScoreDelta(-90); got != -50 {
		t.Errorf("ClampScoreDelta(-90) = %d", got)
	}
}
