// Package stack owns the append-only interaction ledger for one agent run:
// branch indexing, per-branch stepping cursors, and the namespaced
// shared-state store.
package stack

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/logging"
)

// RootBranch is the branch used when an append names no branch.
const RootBranch = "root"

var (
	// ErrDuplicateID is returned when an interaction id is appended twice.
	ErrDuplicateID = errors.New("interaction id already registered")
	// ErrUnknownBranch is returned for cursor operations on branches that
	// have never been appended to.
	ErrUnknownBranch = errors.New("unknown branch")
)

// Listener observes every append. The session layer uses this to maintain
// the cross-agent interaction registry.
type Listener func(rec *interaction.Record)

// Stack is the interaction ledger plus shared state for one agent run.
// All methods are safe for concurrent use.
type Stack struct {
	mu          sync.RWMutex
	id          string
	agent       string
	records     map[string]*interaction.Record
	branches    map[string][]string
	branchOrder []string
	cursors     map[string]int
	state       *SharedState
	listeners   []Listener
	logger      logging.Logger
}

// New creates an empty stack for the named agent.
func New(agent string, logger logging.Logger) *Stack {
	return &Stack{
		id:       "stack_" + uuid.NewString(),
		agent:    agent,
		records:  make(map[string]*interaction.Record),
		branches: make(map[string][]string),
		cursors:  make(map[string]int),
		state:    NewSharedState(),
		logger:   logging.OrNop(logger),
	}
}

// ID returns the stack identifier.
func (s *Stack) ID() string { return s.id }

// Agent returns the owning agent's name.
func (s *Stack) Agent() string { return s.agent }

// SharedState returns the stack's shared-state store.
func (s *Stack) SharedState() *SharedState { return s.state }

// AddListener registers an append observer.
func (s *Stack) AddListener(listener Listener) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Append adds the record to the named branch, creating the branch on first
// use. An empty branch name targets the root branch. The record's id and
// branch are immutable afterwards.
func (s *Stack) Append(rec *interaction.Record, branch string) error {
	if rec == nil {
		return fmt.Errorf("nil interaction record")
	}
	if branch == "" {
		branch = RootBranch
	}

	s.mu.Lock()
	if _, exists := s.records[rec.ID()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID())
	}
	if err := rec.Bind(branch); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, known := s.branches[branch]; !known {
		s.branchOrder = append(s.branchOrder, branch)
	}
	s.records[rec.ID()] = rec
	s.branches[branch] = append(s.branches[branch], rec.ID())
	listeners := s.listeners
	s.mu.Unlock()

	s.logger.Debug("append %s %s on %s/%s", rec.Kind(), rec.ID(), s.agent, branch)
	for _, listener := range listeners {
		listener(rec)
	}
	return nil
}

// Get returns the record with the given id.
func (s *Stack) Get(id string) (*interaction.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Last returns the frontier record of the branch.
func (s *Stack) Last(branch string) (*interaction.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.branches[branch]
	if len(ids) == 0 {
		return nil, false
	}
	return s.records[ids[len(ids)-1]], true
}

// BranchInteractions returns the branch's records in causal (append) order.
func (s *Stack) BranchInteractions(branch string) []*interaction.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.branches[branch]
	out := make([]*interaction.Record, len(ids))
	for i, id := range ids {
		out[i] = s.records[id]
	}
	return out
}

// BranchLen returns the number of records appended to the branch.
func (s *Stack) BranchLen(branch string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.branches[branch])
}

// IsBranchComplete reports whether the branch's last interaction is a
// TaskResult.
func (s *Stack) IsBranchComplete(branch string) bool {
	rec, ok := s.Last(branch)
	return ok && rec.Kind() == interaction.KindTaskResult
}

// ActiveBranches returns all known branch names in creation order.
func (s *Stack) ActiveBranches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.branchOrder))
	copy(out, s.branchOrder)
	return out
}

// NextUnstepped returns the oldest record on the branch that the stepping
// loop has not yet invoked.
func (s *Stack) NextUnstepped(branch string) (*interaction.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.branches[branch]
	cursor := s.cursors[branch]
	if cursor >= len(ids) {
		return nil, false
	}
	return s.records[ids[cursor]], true
}

// MarkStepped advances the branch's stepping cursor. The engine calls this
// exactly once per step invocation so no record is ever re-stepped.
func (s *Stack) MarkStepped(branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, known := s.branches[branch]
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	if s.cursors[branch] >= len(ids) {
		return fmt.Errorf("branch %s: cursor already at frontier", branch)
	}
	s.cursors[branch]++
	return nil
}

// SteppedCount returns how many of the branch's records have been stepped.
func (s *Stack) SteppedCount(branch string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[branch]
}
