package rules

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider exposes the active moderation configuration text. The
// orchestrator snapshots it once per turn; implementations must return
// a consistent document for each call.
type Provider interface {
	Current() string
}

// StaticProvider implements Provider over a fixed document, suitable
// for the seeded default configuration and for tests.
type StaticProvider struct {
	mu   sync.RWMutex
	text string
}

// NewStaticProvider returns a provider serving the supplied document.
func NewStaticProvider(text string) *StaticProvider {
	return &StaticProvider{text: text}
}

// Current returns the active configuration document.
func (p *StaticProvider) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Replace swaps the configuration document. In-flight evaluations keep
// the snapshot they were built with.
func (p *StaticProvider) Replace(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}

// FromFile loads a configuration document from disk, rejecting empty
// files: running the moderation model without rules is a precondition
// violation, not a degraded mode.
func FromFile(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("rules file %s is empty", path)
	}
	return NewStaticProvider(text), nil
}
