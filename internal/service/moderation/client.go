// Package moderation implements the evaluation side of the guard: it
// builds the two-segment moderation request, invokes the moderation
// model, and validates the structured verdict it returns.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

// ErrUnavailable marks transport-level failures of the moderation
// model: network faults, rate limits, provider outages. Callers decide
// whether to synthesize a default-refuse verdict; this package never
// retries on its own.
var ErrUnavailable = errors.New("moderation model unavailable")

// Evaluator runs one moderation pass. The concrete Client talks to the
// model; tests substitute their own implementation.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (conversation.PassResult, error)
}

// Client invokes the moderation model through a compiled chain:
// configuration as the system segment, the conversation document as the
// user segment.
type Client struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewClient compiles the moderation chain over the supplied chat model.
func NewClient(ctx context.Context, chatModel model.ChatModel) (*Client, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{configuration}"),
		schema.UserMessage("{conversation}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile moderation chain: %w", err)
	}

	return &Client{chain: runnable}, nil
}

// Evaluate sends the assembled request to the moderation model and
// returns the parsed pass result. Transport failures surface as errors
// wrapping ErrUnavailable; malformed model output is not an error but a
// schema violation on the returned result. The Ark integration offers
// no server-side schema enforcement, so validation happens on receipt.
func (c *Client) Evaluate(ctx context.Context, req Request) (conversation.PassResult, error) {
	msg, err := c.chain.Invoke(ctx, map[string]any{
		"configuration": req.Configuration,
		"conversation":  req.Conversation,
	})
	if err != nil {
		return conversation.PassResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil {
		return conversation.PassResult{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	result := ParseResult(msg.Content)
	if result.SchemaViolation {
		log.Printf("[moderation] schema violation for conversation=%s raw=%q", req.ConversationID, truncate(msg.Content, 200))
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
