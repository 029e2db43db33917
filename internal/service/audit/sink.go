// Package audit records completed turns for offline review. Recording
// is fire-and-forget from the orchestrator's point of view: a sink
// failure never alters an outcome already computed.
package audit

import (
	"context"
	"log"
	"sync"

	"github.com/omniguard-ai/omniguard/internal/model/conversation"
)

// Sink receives one TurnRecord per terminal transition.
type Sink interface {
	Record(ctx context.Context, rec conversation.TurnRecord) error
}

// MemorySink keeps records in memory, suitable for tests and the
// guardcheck tool.
type MemorySink struct {
	mu      sync.Mutex
	records []conversation.TurnRecord
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the turn record.
func (s *MemorySink) Record(_ context.Context, rec conversation.TurnRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (s *MemorySink) Records() []conversation.TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]conversation.TurnRecord, len(s.records))
	copy(copied, s.records)
	return copied
}

// LogSink writes a one-line summary per turn, the default wiring when
// no external store is configured.
type LogSink struct{}

// Record logs the turn summary.
func (LogSink) Record(_ context.Context, rec conversation.TurnRecord) error {
	log.Printf("[audit] conversation=%s action=%s schema_violation=%t agent_unavailable=%t passes=%d",
		rec.ConversationID, rec.Action, rec.SchemaViolation, rec.AgentUnavailable, len(rec.Passes))
	return nil
}
