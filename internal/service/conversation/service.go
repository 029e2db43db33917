// Package conversation manages guarded sessions: it owns the
// conversation instances and serializes turn execution per session so
// the orchestrator always sees a consistent history.
package conversation

import (
	"context"
	"errors"
	"sync"

	convmodel "github.com/omniguard-ai/omniguard/internal/model/conversation"
	"github.com/omniguard-ai/omniguard/internal/service/orchestrator"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message content is required")
)

// session pairs a conversation with its turn lock. Turns within one
// session run strictly one at a time; distinct sessions are
// independent.
type session struct {
	mu   sync.Mutex
	conv *convmodel.Conversation
}

// Service is the in-memory session registry.
type Service struct {
	mu           sync.RWMutex
	sessions     map[string]*session
	orchestrator *orchestrator.Orchestrator
	agentPrompt  string
}

// NewService bootstraps the registry. Every session created through it
// shares the agent prompt and the orchestrator wiring.
func NewService(orch *orchestrator.Orchestrator, agentPrompt string) *Service {
	return &Service{
		sessions:     make(map[string]*session),
		orchestrator: orch,
		agentPrompt:  agentPrompt,
	}
}

// SessionInfo is the handler-facing view of a session.
type SessionInfo struct {
	SessionID      string `json:"sessionId"`
	ConversationID string `json:"conversationId"`
	TurnNumber     int    `json:"turnNumber"`
}

// CreateSession provisions a new guarded conversation. The session id
// is the conversation's immutable base id.
func (s *Service) CreateSession(_ context.Context) (SessionInfo, error) {
	conv := convmodel.New(s.agentPrompt)

	s.mu.Lock()
	s.sessions[conv.BaseID] = &session{conv: conv}
	s.mu.Unlock()

	return SessionInfo{
		SessionID:      conv.BaseID,
		ConversationID: conv.ID(),
		TurnNumber:     conv.TurnNumber,
	}, nil
}

// RunTurn executes one full moderated turn for the session.
func (s *Service) RunTurn(ctx context.Context, sessionID, content string, observers ...orchestrator.Observer) (orchestrator.Outcome, error) {
	if content == "" {
		return orchestrator.Outcome{}, ErrEmptyMessage
	}

	sess, err := s.lookup(sessionID)
	if err != nil {
		return orchestrator.Outcome{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.orchestrator.ProcessTurn(ctx, sess.conv, content, observers...)
}

// Transcript returns a copy of the session's message history.
func (s *Service) Transcript(_ context.Context, sessionID string) ([]convmodel.Message, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.conv.Transcript(), nil
}

func (s *Service) lookup(sessionID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
