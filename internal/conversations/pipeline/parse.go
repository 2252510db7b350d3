package pipeline

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"chatflow_backend/internal/conversations/domain"
)

// ParseFailureReason is the handoff reason used when the AI output cannot be interpreted.
const ParseFailureReason = "AI response parse failure"

// ParseAIResponse converts raw AI output into a clamped AiTurnResult. It never
// panics: nil, non-string and non-JSON input all yield the parse-failure result.
func ParseAIResponse(raw any) (result domain.AiTurnResult) {
	defer func() {
		if r := recover(); r != nil {
			result = parseFailure()
		}
	}()

	var fields map[string]any
	switch v := raw.(type) {
	case nil:
		return parseFailure()
	case map[string]any:
		fields = v
	case string:
		fields = decodeObject(v)
	case []byte:
		fields = decodeObject(string(v))
	default:
		return parseFailure()
	}
	if fields == nil {
		return parseFailure()
	}

	result = domain.AiTurnResult{
		ResponseText:  firstString(fields, "response", "response_text", "responseText", "message", "reply"),
		Intent:        domain.NormalizeIntent(firstString(fields, "intent")),
		Confidence:    domain.ClampConfidence(toInt(first(fields, "confidence"))),
		ShouldHandoff: toBool(first(fields, "should_handoff", "shouldHandoff", "handoff")),
		ScoreDelta:    domain.ClampScoreDelta(toInt(first(fields, "score_delta", "scoreDelta"))),
	}
	if reason := firstString(fields, "handoff_reason", "handoffReason"); reason != "" {
		result.HandoffReason = &reason
	}
	if info, ok := first(fields, "extracted_info", "extractedInfo").(map[string]any); ok {
		result.ExtractedInfo = info
	}
	return result
}

func parseFailure() domain.AiTurnResult {
	reason := ParseFailureReason
	return domain.AiTurnResult{
		Intent:        domain.IntentOther,
		Confidence:    0,
		ShouldHandoff: true,
		HandoffReason: &reason,
	}
}

// decodeObject extracts the first JSON object from text, ignoring markdown code
// fences and any prose around the object.
func decodeObject(text string) map[string]any {
	text = stripCodeFences(strings.TrimSpace(text))
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err != nil {
		return nil
	}
	return fields
}

func stripCodeFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the language tag line, e.g. ```json
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func first(fields map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(fields map[string]any, keys ...string) string {
	if s, ok := first(fields, keys...).(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func toInt(v any) int {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(n, "%")), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Round(f)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "sim", "y", "1":
			return true
		}
		return false
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
