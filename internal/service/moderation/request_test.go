package moderation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

func testConversation(t *testing.T) *conversation.Conversation {
	t.Helper()
	conv := conversation.New("You are a helpful assistant.")
	require.NoError(t, conv.Append(conversation.RoleUser, "Hello"))
	require.NoError(t, conv.Append(conversation.RoleAssistant, "Hi!"))
	require.NoError(t, conv.Append(conversation.RoleUser, "What's the weather?"))
	return conv
}

func TestBuildRequestIsDeterministic(t *testing.T) {
	conv := testConversation(t)

	first := BuildRequest(conv, "rules", "")
	second := BuildRequest(conv, "rules", "")
	assert.Equal(t, first, second)

	withPending := BuildRequest(conv, "rules", "It is sunny.")
	samePending := BuildRequest(conv, "rules", "It is sunny.")
	assert.Equal(t, withPending, samePending)
	assert.NotEqual(t, first, withPending)
}

func TestBuildRequestSegmentsStayDistinct(t *testing.T) {
	conv := testConversation(t)

	req := BuildRequest(conv, "the rules document", "")

	assert.Equal(t, "the rules document", req.Configuration)
	assert.True(t, strings.HasPrefix(req.Conversation, "<input>\n"))
	assert.True(t, strings.HasSuffix(req.Conversation, "\n</input>"))
	assert.NotContains(t, req.Conversation, "the rules document")
}

func TestBuildRequestDocumentShape(t *testing.T) {
	conv := testConversation(t)

	req := BuildRequest(conv, "rules", "It is sunny.")

	doc := strings.TrimSuffix(strings.TrimPrefix(req.Conversation, "<input>\n"), "\n</input>")
	var decoded struct {
		ID       string `json:"id"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &decoded))

	assert.Equal(t, conv.ID(), decoded.ID)
	require.Len(t, decoded.Messages, 5)
	assert.Equal(t, "system", decoded.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant.", decoded.Messages[0].Content)
	assert.Equal(t, "assistant", decoded.Messages[4].Role)
	assert.Equal(t, "It is sunny.", decoded.Messages[4].Content)
}

func TestBuildRequestWithoutPendingOmitsCandidate(t *testing.T) {
	conv := testConversation(t)

	req := BuildRequest(conv, "rules", "")

	doc := strings.TrimSuffix(strings.TrimPrefix(req.Conversation, "<input>\n"), "\n</input>")
	var decoded struct {
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &decoded))
	assert.Len(t, decoded.Messages, 4)
}

func TestBuildRequestDoesNotMutateConversation(t *testing.T) {
	conv := testConversation(t)
	before := len(conv.Messages)

	BuildRequest(conv, "rules", "candidate")

	assert.Len(t, conv.Messages, before)
}
