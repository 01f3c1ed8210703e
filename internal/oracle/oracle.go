// Package oracle defines the language-model decision boundary: the request
// descriptor the engine builds, the Oracle contract an adapter implements,
// and the parsing of raw decisions back into engine actions.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/gimlelabs/hugin/internal/interaction"
)

// Request describes one oracle ask: what the prompt is built from and the
// named inputs that accompany it.
type Request struct {
	Kind       interaction.PromptKind
	ToolCallID string
	Text       string
	Template   string
	Prompt     string
	Inputs     map[string]any
}

// Oracle is the one external call that invokes the language model. The
// returned string is the model's raw decision, parsed by ParseDecision.
type Oracle interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// Scripted replays a fixed list of raw decisions in order. Used for tests
// and dry runs.
type Scripted struct {
	mu        sync.Mutex
	decisions []string
	next      int
	requests  []Request
}

// NewScripted creates a scripted oracle.
func NewScripted(decisions ...string) *Scripted {
	return &Scripted{decisions: decisions}
}

// Decide returns the next scripted decision and records the request.
func (s *Scripted) Decide(_ context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.decisions) {
		return "", fmt.Errorf("scripted oracle exhausted after %d decisions", len(s.decisions))
	}
	decision := s.decisions[s.next]
	s.next++
	return decision, nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}
