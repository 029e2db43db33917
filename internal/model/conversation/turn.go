package conversation

import "time"

// PassKind tags which side of the conversation a moderation pass
// evaluated.
type PassKind string

const (
	UserPass  PassKind = "user"
	AgentPass PassKind = "assistant"
)

// ExpectedAction returns the refusal action a non-compliant verdict is
// expected to carry for this pass.
func (k PassKind) ExpectedAction() Action {
	if k == AgentPass {
		return ActionRefuseAssistant
	}
	return ActionRefuseUser
}

// PassAudit captures the exact input and raw output of one moderation
// pass for the audit trail.
type PassAudit struct {
	Kind            PassKind      `json:"kind"`
	Input           string        `json:"input"`
	RawOutput       string        `json:"rawOutput"`
	Compliant       *bool         `json:"compliant"`
	SchemaViolation bool          `json:"schemaViolation"`
	Latency         time.Duration `json:"latencyMs"`
}

// TurnRecord is handed to the persistence sink once per terminal
// transition. It is audit data, not authoritative state.
type TurnRecord struct {
	ConversationID   string      `json:"conversationId"`
	Instructions     string      `json:"instructions"`
	Passes           []PassAudit `json:"passes"`
	FinalText        string      `json:"finalText"`
	Action           Action      `json:"action,omitempty"`
	RulesViolated    []string    `json:"rulesViolated,omitempty"`
	SchemaViolation  bool        `json:"schemaViolation"`
	ViolationContext PassKind    `json:"violationContext,omitempty"`
	AgentUnavailable bool        `json:"agentUnavailable"`
	RecordedAt       time.Time   `json:"recordedAt"`
}
