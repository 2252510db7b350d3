package pipeline

import (
	"testing"

	"chatflow_backend/internal/conversations/domain"
)

func TestParseAIResponseNeverPanics(t *testing.T) {
	inputs := []any{
		nil,
		"",
		"not json at all",
		"{",
		"```json\n{broken\n```",
		42,
		[]string{"a"},
		map[string]any{},
		[]byte("null"),
		`{"confidence": "NaN"}`,
	}
	for _, in := range inputs {
		res := ParseAIResponse(in)
		if res.Confidence < 0 || res.Confidence > 100 {
			t.Errorf("%#v: confidence %d out of range", in, res.Confidence)
		}
		if res.ScoreDelta < -50 || res.ScoreDelta > 30 {
			t.Errorf("%#v: score delta %d out of range", in, res.ScoreDelta)
		}
	}
}

func TestParseAIResponseFailureDefaults(t *testing.T) {
	for _, in := range []any{nil, "", "hello there", 3.14} {
		res := ParseAIResponse(in)
		if !res.ShouldHandoff || res.Confidence != 0 {
			t.Errorf("%#v: got %+v", in, res)
		}
		if res.HandoffReason == nil || *res.HandoffReason != ParseFailureReason {
			t.Errorf("%#v: reason %v", in, res.HandoffReason)
		}
		if res.Intent != domain.IntentOther {
			t.Errorf("%#v: intent %s", in, res.Intent)
		}
	}
}

func TestParseAIResponseFields(t *testing.T) {
	raw := "```json\n" + `{
		"response": "  Temos sim! O plano anual sai por R$ 1.200.  ",
		"intent": "PRICING",
		"confidence": 87.6,
		"should_handoff": "false",
		"handoff_reason": null,
		"score_delta": 12.4,
		"extracted_info": {"budget": "1200"}
	}` + "\n```"

	res := ParseAIResponse(raw)
	if res.ResponseText != "Temos sim! O plano anual sai por R$ 1.200." {
		t.Fatalf("ResponseText = %q", res.ResponseText)
	}
	if res.Intent != domain.IntentPricing {
		t.Fatalf("Intent = %s", res.Intent)
	}
	if res.Confidence != 88 || res.ScoreDelta != 12 {
		t.Fatalf("confidence %d delta %d, want 88 and 12", res.Confidence, res.ScoreDelta)
	}
	if res.ShouldHandoff || res.HandoffReason != nil {
		t.Fatalf("unexpected handoff: %+v", res)
	}
	if res.ExtractedInfo["budget"] != "1200" {
		t.Fatalf("ExtractedInfo = %v", res.ExtractedInfo)
	}
}

func TestParseAIResponseClamps(t *testing.T) {
	cases := []struct {
		raw        string
		confidence int
		delta      int
	}{
		{`{"response":"ok!!","confidence":140,"score_delta":45}`, 100, 30},
		{`{"response":"ok!!","confidence":-3,"score_delta":-80}`, 0, -50},
		{`{"response":"ok!!","confidence":"72%","score_delta":"-49.6"}`, 72, -50},
		{`{"response":"ok!!","confidence":99.5,"score_delta":29.5}`, 100, 30},
	}
	for _, tc := range cases {
		res := ParseAIResponse(tc.raw)
		if res.Confidence != tc.confidence || res.ScoreDelta != tc.delta {
			t.Errorf("%s: got %d/%d, want %d/%d", tc.raw, res.Confidence, res.ScoreDelta, tc.confidence, tc.delta)
		}
	}
}

func TestParseAIResponseCoercesHandoff(t *testing.T) {
	cases := map[string]bool{
		`{"response":"x","should_handoff":true}`:   true,
		`{"response":"x","should_handoff":"yes"}`:  true,
		`{"response":"x","shouldHandoff":1}`:       true,
		`{"response":"x","should_handoff":0}`:      false,
		`{"response":"x","should_handoff":"nope"}`: false,
	}
	for raw, want := range cases {
		if got := ParseAIResponse(raw).ShouldHandoff; got != want {
			t.Errorf("%s: ShouldHandoff = %v, want %v", raw, got, want)
		}
	}
}

func TestParseAIResponseProseAroundJSON(t *testing.T) {
	res := ParseAIResponse(`Here is my answer: {"response":"Posso ajudar!","intent":"greeting","confidence":90}`)
	if res.ResponseText != "Posso ajudar!" || res.Intent != domain.IntentGreeting {
		t.Fatalf("got %+v", res)
	}
}

func TestParseAIResponseUnknownIntent(t *testing.T) {
	res := ParseAIResponse(`{"response":"certo","intent":"buy_everything","confidence":90}`)
	if res.Intent != domain.IntentOther {
		t.Fatalf("Intent = %s", res.Intent)
	}
}
