package conversation

// Action names which side of the conversation a refusal targets.
type Action string

const (
	ActionRefuseUser      Action = "RefuseUser"
	ActionRefuseAssistant Action = "RefuseAssistant"
)

// Valid reports whether the action is one of the two allowed values.
func (a Action) Valid() bool {
	return a == ActionRefuseUser || a == ActionRefuseAssistant
}

// Refusal is the nested response object present on non-compliant
// verdicts. Exactly one of RefuseUser/RefuseAssistant carries the
// refusal text, matching Action; the other is explicitly null on the
// wire.
type Refusal struct {
	Action          Action   `json:"action"`
	RulesViolated   []string `json:"rules_violated,omitempty"`
	RefuseUser      *string  `json:"RefuseUser"`
	RefuseAssistant *string  `json:"RefuseAssistant"`
}

// Message returns the refusal text matching the action, if present.
func (r *Refusal) Message() (string, bool) {
	if r == nil {
		return "", false
	}
	switch r.Action {
	case ActionRefuseUser:
		if r.RefuseUser != nil && *r.RefuseUser != "" {
			return *r.RefuseUser, true
		}
	case ActionRefuseAssistant:
		if r.RefuseAssistant != nil && *r.RefuseAssistant != "" {
			return *r.RefuseAssistant, true
		}
	}
	return "", false
}

// Verdict is the moderation model's structured decision for one pass.
// Compliant is the single authoritative field; Analysis is informational
// only and never drives control flow.
type Verdict struct {
	ConversationID string   `json:"conversation_id"`
	Analysis       string   `json:"analysis"`
	Compliant      bool     `json:"compliant"`
	Response       *Refusal `json:"response,omitempty"`
}

// PassResult is the outcome of one moderation pass before the
// orchestrator branches on it. SchemaViolation distinguishes malformed
// model output from a genuine content refusal; Parsed may still carry
// the decodable fields so callers can attempt a best-effort fallback.
type PassResult struct {
	RawText         string
	Parsed          *Verdict
	SchemaViolation bool
}
