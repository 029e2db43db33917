package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
	"github.com/omniguard-ai/omniguard/internal/model/rules"
	"github.com/omniguard-ai/omniguard/internal/service/audit"
	"github.com/omniguard-ai/omniguard/internal/service/moderation"
)

const compliantRaw = `{"conversation_id": "x", "analysis": "ok", "compliant": true}`

const refuseUserRaw = `{
	"conversation_id": "x",
	"analysis": "violation",
	"compliant": false,
	"response": {"action": "RefuseUser", "RefuseUser": "I can't help with that.", "RefuseAssistant": null}
}`

const refuseAssistantEmptyRaw = `{
	"conversation_id": "x",
	"analysis": "violation",
	"compliant": false,
	"response": {"action": "RefuseAssistant", "RefuseUser": null, "RefuseAssistant": null}
}`

// evalStep scripts one moderation pass: either a raw payload to parse
// or a transport error.
type evalStep struct {
	raw string
	err error
}

type scriptedEvaluator struct {
	steps    []evalStep
	requests []moderation.Request
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, req moderation.Request) (conversation.PassResult, error) {
	e.requests = append(e.requests, req)
	if len(e.steps) == 0 {
		return conversation.PassResult{}, fmt.Errorf("%w: no scripted step", moderation.ErrUnavailable)
	}
	step := e.steps[0]
	e.steps = e.steps[1:]
	if step.err != nil {
		return conversation.PassResult{}, step.err
	}
	return moderation.ParseResult(step.raw), nil
}

type stubAgent struct {
	reply string
	err   error
	calls int
}

func (a *stubAgent) Fetch(_ context.Context, _ *conversation.Conversation) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

func newFixture(steps []evalStep, agent *stubAgent) (*Orchestrator, *audit.MemorySink, *scriptedEvaluator) {
	evaluator := &scriptedEvaluator{steps: steps}
	sink := audit.NewMemorySink()
	orch := New(rules.NewStaticProvider("rules document"), evaluator, agent, sink)
	return orch, sink, evaluator
}

func assertSingleTerminal(t *testing.T, conv *conversation.Conversation, outcome Outcome) {
	t.Helper()
	assert.Equal(t, 2, conv.TurnNumber)
	assert.Equal(t, fmt.Sprintf("%s-2", conv.BaseID), outcome.ConversationID)
	assert.Equal(t, 2, outcome.TurnNumber)
}

func TestProcessTurnAllowedEndToEnd(t *testing.T) {
	agent := &stubAgent{reply: "Hi!"}
	orch, sink, evaluator := newFixture([]evalStep{{raw: compliantRaw}, {raw: compliantRaw}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hi!", outcome.Text)
	assert.True(t, outcome.Compliant)
	assert.False(t, outcome.SchemaViolation)
	assertSingleTerminal(t, conv, outcome)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hi!", conv.Messages[1].Content)

	// Pass 2 carries the candidate; pass 1 does not.
	require.Len(t, evaluator.requests, 2)
	assert.NotContains(t, evaluator.requests[0].Conversation, "Hi!")
	assert.Contains(t, evaluator.requests[1].Conversation, "Hi!")

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Len(t, records[0].Passes, 2)
	assert.False(t, records[0].SchemaViolation)
	assert.Equal(t, "rules document", records[0].Instructions)
}

func TestProcessTurnUserRefusalSkipsAgent(t *testing.T) {
	agent := &stubAgent{reply: "never sent"}
	orch, sink, _ := newFixture([]evalStep{{raw: refuseUserRaw}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "do something bad")
	require.NoError(t, err)

	assert.Equal(t, "I can't help with that.", outcome.Text)
	assert.False(t, outcome.Compliant)
	assert.Equal(t, conversation.ActionRefuseUser, outcome.Action)
	assert.False(t, outcome.SchemaViolation)
	assert.Zero(t, agent.calls)
	assertSingleTerminal(t, conv, outcome)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Len(t, records[0].Passes, 1)
	assert.False(t, records[0].SchemaViolation)
	assert.Equal(t, conversation.ActionRefuseUser, records[0].Action)
}

func TestProcessTurnTransportFailureOnUserPass(t *testing.T) {
	agent := &stubAgent{reply: "never sent"}
	orch, sink, _ := newFixture([]evalStep{{err: fmt.Errorf("%w: rate limited", moderation.ErrUnavailable)}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.Equal(t, safetyUnavailableText, outcome.Text)
	// Transport failure is not malformed output.
	assert.False(t, outcome.SchemaViolation)
	assert.Zero(t, agent.calls)
	assertSingleTerminal(t, conv, outcome)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].SchemaViolation)
}

func TestProcessTurnSchemaViolationOnAgentPass(t *testing.T) {
	agent := &stubAgent{reply: "candidate reply"}
	orch, sink, _ := newFixture([]evalStep{{raw: compliantRaw}, {raw: "not json"}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.True(t, outcome.SchemaViolation)
	assert.NotEmpty(t, outcome.Text)
	// The candidate is discarded, never shown.
	assert.NotEqual(t, "candidate reply", outcome.Text)
	assert.NotEqual(t, "candidate reply", conv.Messages[len(conv.Messages)-1].Content)
	assertSingleTerminal(t, conv, outcome)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].SchemaViolation)
	assert.Equal(t, conversation.AgentPass, records[0].ViolationContext)
}

func TestProcessTurnAgentRefusalWithEmptyMessage(t *testing.T) {
	agent := &stubAgent{reply: "candidate reply"}
	orch, _, _ := newFixture([]evalStep{{raw: compliantRaw}, {raw: refuseAssistantEmptyRaw}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.Equal(t, refuseAssistantText, outcome.Text)
	assert.Equal(t, conversation.ActionRefuseAssistant, outcome.Action)
	assertSingleTerminal(t, conv, outcome)
}

func TestProcessTurnSchemaViolationOnUserPass(t *testing.T) {
	cases := map[string]string{
		"empty output":      "",
		"truncated json":    `{"compliant": tru`,
		"missing compliant": `{"conversation_id": "x", "analysis": "ok"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			agent := &stubAgent{reply: "never sent"}
			orch, sink, _ := newFixture([]evalStep{{raw: raw}}, agent)
			conv := conversation.New("prompt")

			outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
			require.NoError(t, err)

			assert.True(t, outcome.SchemaViolation)
			assert.NotEmpty(t, outcome.Text)
			assert.Zero(t, agent.calls)
			assertSingleTerminal(t, conv, outcome)

			records := sink.Records()
			require.Len(t, records, 1)
			assert.True(t, records[0].SchemaViolation)
			assert.Equal(t, conversation.UserPass, records[0].ViolationContext)
		})
	}
}

func TestProcessTurnAgentUnavailable(t *testing.T) {
	agent := &stubAgent{err: fmt.Errorf("connection refused")}
	orch, sink, _ := newFixture([]evalStep{{raw: compliantRaw}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.Equal(t, agentUnavailableText, outcome.Text)
	assert.True(t, outcome.AgentUnavailable)
	// Unavailability is not a moderation refusal.
	assert.Empty(t, outcome.Action)
	assert.False(t, outcome.SchemaViolation)
	assertSingleTerminal(t, conv, outcome)

	records := sink.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].AgentUnavailable)
	assert.False(t, records[0].SchemaViolation)
}

func TestProcessTurnUnexpectedActionOnUserPass(t *testing.T) {
	raw := `{
		"conversation_id": "x",
		"analysis": "violation",
		"compliant": false,
		"response": {"action": "RefuseAssistant", "RefuseUser": null, "RefuseAssistant": "blocked"}
	}`
	agent := &stubAgent{reply: "never sent"}
	orch, _, _ := newFixture([]evalStep{{raw: raw}}, agent)
	conv := conversation.New("prompt")

	outcome, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.NoError(t, err)

	assert.True(t, outcome.SchemaViolation)
	assert.Equal(t, conversation.ActionRefuseUser, outcome.Action)
	assert.Zero(t, agent.calls)
}

func TestProcessTurnMissingConfiguration(t *testing.T) {
	evaluator := &scriptedEvaluator{}
	orch := New(rules.NewStaticProvider(""), evaluator, &stubAgent{}, audit.NewMemorySink())
	conv := conversation.New("prompt")

	_, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.ErrorIs(t, err, ErrNoConfiguration)
	// Refused to run: no mutation at all.
	assert.Empty(t, conv.Messages)
	assert.Equal(t, 1, conv.TurnNumber)
	assert.Empty(t, evaluator.requests)
}

func TestProcessTurnMissingAgentPrompt(t *testing.T) {
	orch, _, _ := newFixture(nil, &stubAgent{})
	conv := conversation.New("")

	_, err := orch.ProcessTurn(context.Background(), conv, "Hello")
	require.ErrorIs(t, err, ErrNoAgentPrompt)
	assert.Empty(t, conv.Messages)
}

func TestProcessTurnCancelledUserPass(t *testing.T) {
	agent := &stubAgent{reply: "never sent"}
	orch, sink, _ := newFixture([]evalStep{{err: fmt.Errorf("%w: canceled", moderation.ErrUnavailable)}}, agent)
	conv := conversation.New("prompt")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.ProcessTurn(ctx, conv, "Hello")
	require.ErrorIs(t, err, context.Canceled)

	// The user message stays in place with no assistant reply and no
	// turn bookkeeping.
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, 1, conv.TurnNumber)
	assert.Empty(t, sink.Records())
}

func TestProcessTurnCancelledAgentCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &stubAgent{err: fmt.Errorf("canceled")}
	evaluator := &scriptedEvaluator{steps: []evalStep{{raw: compliantRaw}}}
	sink := audit.NewMemorySink()
	orch := New(rules.NewStaticProvider("rules"), evaluator, &cancellingAgent{inner: agent, cancel: cancel}, sink)
	conv := conversation.New("prompt")

	_, err := orch.ProcessTurn(ctx, conv, "Hello")
	require.ErrorIs(t, err, context.Canceled)

	// The second moderation pass never ran.
	assert.Len(t, evaluator.requests, 1)
	assert.Empty(t, sink.Records())
}

// cancellingAgent cancels the turn context while the agent call is in
// flight, then fails.
type cancellingAgent struct {
	inner  *stubAgent
	cancel context.CancelFunc
}

func (a *cancellingAgent) Fetch(ctx context.Context, conv *conversation.Conversation) (string, error) {
	a.cancel()
	return a.inner.Fetch(ctx, conv)
}
