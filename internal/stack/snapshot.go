package stack

import (
	"fmt"
	"time"

	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/logging"
)

// Snapshot is the persisted shape of a stack: the full ledger, the branch
// name → sequence index, the per-branch stepping cursors, and the shared
// state. It is sufficient to reconstruct the exact stepping frontier of
// every branch after a restart.
type Snapshot struct {
	ID          string                      `json:"id"`
	Agent       string                      `json:"agent"`
	BranchOrder []string                    `json:"branch_order"`
	Branches    map[string][]string         `json:"branches"`
	Cursors     map[string]int              `json:"cursors"`
	Records     []*interaction.Record       `json:"records"`
	SharedState map[string]map[string]any   `json:"shared_state"`
	SavedAt     time.Time                   `json:"saved_at"`
}

// Snapshot captures a consistent view of the stack.
func (s *Stack) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make(map[string][]string, len(s.branches))
	records := make([]*interaction.Record, 0, len(s.records))
	for _, branch := range s.branchOrder {
		ids := make([]string, len(s.branches[branch]))
		copy(ids, s.branches[branch])
		branches[branch] = ids
		for _, id := range ids {
			records = append(records, s.records[id])
		}
	}
	cursors := make(map[string]int, len(s.cursors))
	for branch, cursor := range s.cursors {
		cursors[branch] = cursor
	}
	order := make([]string, len(s.branchOrder))
	copy(order, s.branchOrder)

	return Snapshot{
		ID:          s.id,
		Agent:       s.agent,
		BranchOrder: order,
		Branches:    branches,
		Cursors:     cursors,
		Records:     records,
		SharedState: s.state.Export(),
		SavedAt:     time.Now().UTC(),
	}
}

// FromSnapshot rebuilds a stack from its persisted shape. Every branch
// entry must resolve to a decoded record of the declared branch; anything
// else is a corrupt snapshot.
func FromSnapshot(snap Snapshot, logger logging.Logger) (*Stack, error) {
	if snap.ID == "" {
		return nil, fmt.Errorf("snapshot missing stack id")
	}

	s := New(snap.Agent, logger)
	s.id = snap.ID

	byID := make(map[string]*interaction.Record, len(snap.Records))
	for _, rec := range snap.Records {
		if rec == nil {
			return nil, fmt.Errorf("snapshot %s: nil record", snap.ID)
		}
		if _, dup := byID[rec.ID()]; dup {
			return nil, fmt.Errorf("snapshot %s: %w: %s", snap.ID, ErrDuplicateID, rec.ID())
		}
		byID[rec.ID()] = rec
	}

	for _, branch := range snap.BranchOrder {
		ids, ok := snap.Branches[branch]
		if !ok {
			return nil, fmt.Errorf("snapshot %s: branch %q listed but has no sequence", snap.ID, branch)
		}
		for _, id := range ids {
			rec, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("snapshot %s: branch %q references unknown record %s", snap.ID, branch, id)
			}
			if rec.Branch() != branch {
				return nil, fmt.Errorf("snapshot %s: record %s belongs to %q, indexed under %q", snap.ID, id, rec.Branch(), branch)
			}
			s.records[id] = rec
		}
		s.branches[branch] = append([]string(nil), ids...)
		s.branchOrder = append(s.branchOrder, branch)
	}

	if len(s.records) != len(byID) {
		return nil, fmt.Errorf("snapshot %s: %d records not indexed by any branch", snap.ID, len(byID)-len(s.records))
	}

	for branch, cursor := range snap.Cursors {
		ids, ok := s.branches[branch]
		if !ok {
			return nil, fmt.Errorf("snapshot %s: cursor for %w %q", snap.ID, ErrUnknownBranch, branch)
		}
		if cursor < 0 || cursor > len(ids) {
			return nil, fmt.Errorf("snapshot %s: cursor %d out of range for branch %q", snap.ID, cursor, branch)
		}
		s.cursors[branch] = cursor
	}

	s.state.Import(snap.SharedState)
	return s, nil
}
