package moderation

import (
	"encoding/json"
	"fmt"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

// Request is the assembled input for one moderation pass: two
// role-tagged segments, the static configuration and the serialized
// conversation document. Downstream code must always be able to tell
// the segments apart, so they are never blended into one string.
type Request struct {
	ConversationID string
	Configuration  string
	Conversation   string
}

// wireMessage strips timestamps and other local bookkeeping from the
// serialized history; the moderation model only sees role and content.
type wireMessage struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

type wireConversation struct {
	ID       string        `json:"id"`
	Messages []wireMessage `json:"messages"`
}

// BuildRequest assembles the evaluation input for a single pass. It is
// a pure function of its arguments: the same conversation snapshot and
// pending response always produce a byte-identical request. The agent
// system prompt becomes messages[0]; pendingResponse, when non-empty,
// is appended as a candidate assistant message (pass 2).
func BuildRequest(conv *conversation.Conversation, rulesText, pendingResponse string) Request {
	messages := make([]wireMessage, 0, len(conv.Messages)+2)
	messages = append(messages, wireMessage{Role: conversation.RoleSystem, Content: conv.AgentPrompt})
	for _, msg := range conv.Messages {
		messages = append(messages, wireMessage{Role: msg.Role, Content: msg.Content})
	}
	if pendingResponse != "" {
		messages = append(messages, wireMessage{Role: conversation.RoleAssistant, Content: pendingResponse})
	}

	doc, err := json.MarshalIndent(wireConversation{ID: conv.ID(), Messages: messages}, "", "    ")
	if err != nil {
		// Only unmarshalable types can fail here and the wire structs
		// contain none; keep the signature pure all the same.
		doc = []byte(fmt.Sprintf(`{"id": %q, "messages": []}`, conv.ID()))
	}

	return Request{
		ConversationID: conv.ID(),
		Configuration:  rulesText,
		Conversation:   fmt.Sprintf("<input>\n%s\n</input>", doc),
	}
}
