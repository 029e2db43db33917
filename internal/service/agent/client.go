// Package agent wraps the downstream conversational model whose output
// the guard evaluates. Only its contract matters to the orchestrator;
// any reply source satisfying Client can sit behind the guard.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

// ErrUnavailable marks agent failures. The orchestrator converts it
// into the user-visible unavailability message, which is deliberately
// distinct from a moderation refusal: unavailability means the content
// was never evaluated.
var ErrUnavailable = errors.New("agent unavailable")

// Client produces the downstream agent's reply for a conversation.
type Client interface {
	Fetch(ctx context.Context, conv *conversation.Conversation) (string, error)
}

// Service implements Client over a compiled chat chain.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the agent chain over the supplied chat model.
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Fetch generates the agent's candidate reply for the conversation as
// it stands. The caller decides whether that reply ever becomes
// visible.
func (s *Service) Fetch(ctx context.Context, conv *conversation.Conversation) (string, error) {
	input := map[string]any{
		"system":  conv.AgentPrompt,
		"history": buildHistory(conv.Messages),
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	log.Printf("[agent] generated candidate for conversation=%s length=%d", conv.ID(), len(msg.Content))
	return msg.Content, nil
}

func buildHistory(messages []conversation.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case conversation.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
