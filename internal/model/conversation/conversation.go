package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrInvalidRole = errors.New("invalid message role")

// Message is a single entry in the turn history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Conversation holds the turn-indexed history for one guarded session.
// The agent system prompt is kept separate from Messages; it is injected
// into evaluation requests at build time, never stored in the history.
type Conversation struct {
	BaseID      string
	TurnNumber  int
	AgentPrompt string
	Messages    []Message
}

// New provisions a conversation with a fresh base identifier. Turn
// numbering starts at 1; the base id never changes afterwards.
func New(agentPrompt string) *Conversation {
	return &Conversation{
		BaseID:      uuid.NewString(),
		TurnNumber:  1,
		AgentPrompt: agentPrompt,
		Messages:    make([]Message, 0, 16),
	}
}

// ID returns the turn-scoped conversation identifier.
func (c *Conversation) ID() string {
	return fmt.Sprintf("%s-%d", c.BaseID, c.TurnNumber)
}

// Append adds a message to the history. Roles outside the known set are
// rejected so a malformed entry can never enter the transcript.
func (c *Conversation) Append(role Role, content string) error {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// CompleteTurn advances the turn counter, which also regenerates the
// turn-scoped id. Callers invoke this exactly once per terminal
// transition, regardless of which branch ended the turn.
func (c *Conversation) CompleteTurn() {
	c.TurnNumber++
}

// Transcript returns a defensive copy of the message history.
func (c *Conversation) Transcript() []Message {
	copied := make([]Message, len(c.Messages))
	copy(copied, c.Messages)
	return copied
}
