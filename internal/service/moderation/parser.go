package moderation

import (
	"encoding/json"
	"strings"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

var allowedTopKeys = map[string]bool{
	"conversation_id": true,
	"analysis":        true,
	"compliant":       true,
	"response":        true,
}

var allowedResponseKeys = map[string]bool{
	"action":          true,
	"rules_violated":  true,
	"RefuseUser":      true,
	"RefuseAssistant": true,
}

// ParseResult decodes and validates one raw moderation output. It never
// returns an error: malformed or incomplete output is classified as a
// schema violation, and whatever fields were decodable are still
// populated so the orchestrator can attempt a best-effort fallback.
func ParseResult(raw string) conversation.PassResult {
	result := conversation.PassResult{RawText: raw}

	payload := extractJSON(raw)
	if payload == "" {
		result.SchemaViolation = true
		return result
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &top); err != nil {
		result.SchemaViolation = true
		return result
	}

	verdict := &conversation.Verdict{}
	result.Parsed = verdict

	violation := false
	for key := range top {
		if !allowedTopKeys[key] {
			violation = true
		}
	}

	if !decodeField(top, "conversation_id", &verdict.ConversationID) {
		violation = true
	}
	if !decodeField(top, "analysis", &verdict.Analysis) {
		violation = true
	}

	compliantPresent := decodeField(top, "compliant", &verdict.Compliant)
	if !compliantPresent {
		violation = true
	}

	if rawResponse, ok := top["response"]; ok {
		refusal, ok := parseRefusal(rawResponse)
		verdict.Response = refusal
		if !ok {
			violation = true
		}
	}

	// A non-compliant verdict must carry a well-formed refusal: a valid
	// action and a non-empty message in the matching field.
	if compliantPresent && !verdict.Compliant {
		switch {
		case verdict.Response == nil:
			violation = true
		case !verdict.Response.Action.Valid():
			violation = true
		default:
			if _, ok := verdict.Response.Message(); !ok {
				violation = true
			}
			if verdict.Response.Action == conversation.ActionRefuseUser && verdict.Response.RefuseAssistant != nil {
				violation = true
			}
			if verdict.Response.Action == conversation.ActionRefuseAssistant && verdict.Response.RefuseUser != nil {
				violation = true
			}
		}
	}

	result.SchemaViolation = violation
	return result
}

func decodeField[T any](top map[string]json.RawMessage, key string, dst *T) bool {
	raw, ok := top[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func parseRefusal(raw json.RawMessage) (*conversation.Refusal, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}

	ok := true
	for key := range fields {
		if !allowedResponseKeys[key] {
			ok = false
		}
	}

	refusal := &conversation.Refusal{}
	if err := json.Unmarshal(raw, refusal); err != nil {
		// Field-level type mismatch; keep whatever half-decoded state
		// the struct holds and flag the violation.
		return refusal, false
	}
	return refusal, ok
}

// extractJSON locates the JSON object in a model response that may be
// wrapped in markdown fences or surrounded by prose. Returns "" when no
// object boundary is present.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if end := strings.LastIndex(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
