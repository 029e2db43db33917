// Package orchestrator drives the two-pass moderation protocol: the
// user message is evaluated first, the downstream agent runs only on a
// compliant user pass, and the agent's candidate reply is evaluated
// before anything becomes visible.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
	"github.com/omniguard-ai/omniguard/internal/model/rules"
	"github.com/omniguard-ai/omniguard/internal/service/agent"
	"github.com/omniguard-ai/omniguard/internal/service/audit"
	"github.com/omniguard-ai/omniguard/internal/service/moderation"
)

// Operator-facing precondition failures. The orchestrator refuses to
// run rather than call the moderation model without rules or impersonate
// an agent with no prompt; these never surface as user-facing refusals.
var (
	ErrNoConfiguration = errors.New("moderation configuration is empty")
	ErrNoAgentPrompt   = errors.New("agent system prompt is empty")
)

// Fallback texts for outcomes where no model-authored message applies.
const (
	safetyUnavailableText = "The safety system is temporarily unavailable. Please try again later."
	agentUnavailableText  = "The assistant is temporarily unavailable. Please try again later."
	schemaViolationText   = "I'm sorry, but I can't assist with that."
	refuseUserText        = "I'm sorry, I can't help with that request."
	refuseAssistantText   = "Response blocked for safety reasons."
)

// Stage identifies where in the turn the orchestrator currently is,
// for streaming transports that surface progress.
type Stage string

const (
	StageUserPass  Stage = "user_pass"
	StageAgent     Stage = "agent"
	StageAgentPass Stage = "agent_pass"
	StageComplete  Stage = "complete"
)

// Observer receives stage notifications during a turn.
type Observer func(stage Stage)

// Outcome is the final, user-visible result of one turn.
type Outcome struct {
	Text             string              `json:"text"`
	Compliant        bool                `json:"compliant"`
	Action           conversation.Action `json:"action,omitempty"`
	SchemaViolation  bool                `json:"schemaViolation"`
	AgentUnavailable bool                `json:"agentUnavailable"`
	ConversationID   string              `json:"conversationId"`
	TurnNumber       int                 `json:"turnNumber"`
}

// Orchestrator owns no conversation state; callers pass the
// conversation they own, and distinct conversations may run in
// parallel.
type Orchestrator struct {
	rules             rules.Provider
	moderation        moderation.Evaluator
	agent             agent.Client
	sink              audit.Sink
	moderationTimeout time.Duration
	agentTimeout      time.Duration
}

// Option adjusts orchestrator construction.
type Option func(*Orchestrator)

// WithModerationTimeout bounds each moderation pass.
func WithModerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.moderationTimeout = d }
}

// WithAgentTimeout bounds the agent call.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// New wires the orchestrator's collaborators.
func New(provider rules.Provider, evaluator moderation.Evaluator, agentClient agent.Client, sink audit.Sink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rules:             provider,
		moderation:        evaluator,
		agent:             agentClient,
		sink:              sink,
		moderationTimeout: 60 * time.Second,
		agentTimeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// passOutcome bundles everything one moderation pass produced.
type passOutcome struct {
	result       conversation.PassResult
	audit        conversation.PassAudit
	transportErr error
}

// ProcessTurn runs one full turn: append the user message, evaluate it,
// and either refuse or obtain and evaluate the agent's reply. Every
// branch ends with exactly one assistant-role append, one turn
// increment, and one audit record. The returned error is operator-facing
// (preconditions, cancellation); all other failures resolve to a
// user-visible fallback inside the Outcome.
func (o *Orchestrator) ProcessTurn(ctx context.Context, conv *conversation.Conversation, userMessage string, observers ...Observer) (Outcome, error) {
	rulesText := o.rules.Current()
	if rulesText == "" {
		return Outcome{}, ErrNoConfiguration
	}
	if conv.AgentPrompt == "" {
		return Outcome{}, ErrNoAgentPrompt
	}

	if err := conv.Append(conversation.RoleUser, userMessage); err != nil {
		return Outcome{}, fmt.Errorf("failed to append user message: %w", err)
	}

	record := conversation.TurnRecord{
		ConversationID: conv.ID(),
		Instructions:   rulesText,
	}

	notify(observers, StageUserPass)
	userPass := o.runPass(ctx, conv, rulesText, "", conversation.UserPass)
	record.Passes = append(record.Passes, userPass.audit)

	if userPass.transportErr != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight: the appended user message stays in
			// place with no assistant reply.
			return Outcome{}, ctx.Err()
		}
		log.Printf("[orchestrator] user pass transport failure: %v", userPass.transportErr)
		return o.finish(ctx, conv, record, observers, Outcome{
			Text:   safetyUnavailableText,
			Action: conversation.ActionRefuseUser,
		}), nil
	}

	if refused, outcome := o.resolveRefusal(conversation.UserPass, userPass.result, &record); refused {
		// The agent is never invoked when the user pass refuses.
		return o.finish(ctx, conv, record, observers, outcome), nil
	}

	notify(observers, StageAgent)
	candidate, err := o.fetchAgent(ctx, conv)
	if err != nil {
		if ctx.Err() != nil {
			// Agent call cancelled: the second pass must not run.
			return Outcome{}, ctx.Err()
		}
		log.Printf("[orchestrator] agent unavailable: %v", err)
		record.AgentUnavailable = true
		return o.finish(ctx, conv, record, observers, Outcome{
			Text:             agentUnavailableText,
			AgentUnavailable: true,
		}), nil
	}

	notify(observers, StageAgentPass)
	agentPass := o.runPass(ctx, conv, rulesText, candidate, conversation.AgentPass)
	record.Passes = append(record.Passes, agentPass.audit)

	if agentPass.transportErr != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Printf("[orchestrator] agent pass transport failure: %v", agentPass.transportErr)
		return o.finish(ctx, conv, record, observers, Outcome{
			Text:   safetyUnavailableText,
			Action: conversation.ActionRefuseAssistant,
		}), nil
	}

	if refused, outcome := o.resolveRefusal(conversation.AgentPass, agentPass.result, &record); refused {
		// Candidate discarded; only the refusal becomes visible.
		return o.finish(ctx, conv, record, observers, outcome), nil
	}

	return o.finish(ctx, conv, record, observers, Outcome{
		Text:      candidate,
		Compliant: true,
	}), nil
}

// runPass executes one moderation pass: build the request, call the
// evaluator under the pass timeout, and capture the audit trail. The
// user pass and agent pass share this single code path, differing only
// in the pending response and the expected refusal action.
func (o *Orchestrator) runPass(ctx context.Context, conv *conversation.Conversation, rulesText, pendingResponse string, kind conversation.PassKind) passOutcome {
	req := moderation.BuildRequest(conv, rulesText, pendingResponse)

	passCtx, cancel := context.WithTimeout(ctx, o.moderationTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.moderation.Evaluate(passCtx, req)
	latency := time.Since(start)

	pass := passOutcome{
		result:       result,
		transportErr: err,
		audit: conversation.PassAudit{
			Kind:            kind,
			Input:           req.Conversation,
			RawOutput:       result.RawText,
			SchemaViolation: result.SchemaViolation,
			Latency:         latency,
		},
	}
	if err == nil && result.Parsed != nil {
		compliant := result.Parsed.Compliant
		pass.audit.Compliant = &compliant
	}
	return pass
}

// resolveRefusal inspects a pass result and, when the content may not
// pass through, produces the refusal outcome. A schema violation and a
// genuine content refusal both end in a polite refusal, but only the
// latter is recorded as a content violation.
func (o *Orchestrator) resolveRefusal(kind conversation.PassKind, result conversation.PassResult, record *conversation.TurnRecord) (bool, Outcome) {
	verdict := result.Parsed
	schemaViolation := result.SchemaViolation

	// An action on the wrong side of the conversation is a deviation
	// from the canonical schema, not a legacy shape to special-case.
	if verdict != nil && verdict.Response != nil && verdict.Response.Action != "" && verdict.Response.Action != kind.ExpectedAction() {
		log.Printf("[orchestrator] unexpected action %q on %s pass", verdict.Response.Action, kind)
		schemaViolation = true
	}

	if !schemaViolation && verdict != nil && verdict.Compliant {
		return false, Outcome{}
	}

	if schemaViolation {
		record.SchemaViolation = true
		record.ViolationContext = kind
	}

	outcome := Outcome{
		Action:          kind.ExpectedAction(),
		SchemaViolation: schemaViolation,
	}

	if verdict != nil && verdict.Response != nil {
		record.RulesViolated = verdict.Response.RulesViolated
	}

	switch {
	case verdict != nil && verdict.Response != nil && verdict.Response.Action == kind.ExpectedAction():
		if msg, ok := verdict.Response.Message(); ok {
			outcome.Text = msg
		} else {
			outcome.Text = genericRefusal(kind)
		}
	case schemaViolation:
		outcome.Text = schemaViolationText
	default:
		outcome.Text = genericRefusal(kind)
	}

	return true, outcome
}

func (o *Orchestrator) fetchAgent(ctx context.Context, conv *conversation.Conversation) (string, error) {
	agentCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()
	return o.agent.Fetch(agentCtx, conv)
}

// finish performs the single terminal transition: append the final
// assistant-role message, advance the turn, hand the record to the
// sink, and report the outcome. No branch reaches the caller without
// passing through here exactly once.
func (o *Orchestrator) finish(ctx context.Context, conv *conversation.Conversation, record conversation.TurnRecord, observers []Observer, outcome Outcome) Outcome {
	if err := conv.Append(conversation.RoleAssistant, outcome.Text); err != nil {
		log.Printf("[orchestrator] failed to append final message: %v", err)
	}
	conv.CompleteTurn()

	record.FinalText = outcome.Text
	record.Action = outcome.Action
	record.RecordedAt = time.Now().UTC()
	if err := o.sink.Record(ctx, record); err != nil {
		// Audit is fire-and-forget; the outcome is already decided.
		log.Printf("[orchestrator] audit record failed for conversation=%s: %v", record.ConversationID, err)
	}

	outcome.ConversationID = conv.ID()
	outcome.TurnNumber = conv.TurnNumber
	notify(observers, StageComplete)
	return outcome
}

func genericRefusal(kind conversation.PassKind) string {
	if kind == conversation.AgentPass {
		return refuseAssistantText
	}
	return refuseUserText
}

func notify(observers []Observer, stage Stage) {
	for _, observer := range observers {
		if observer != nil {
			observer(stage)
		}
	}
}
