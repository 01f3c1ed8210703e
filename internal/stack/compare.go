package stack

import "github.com/gimlelabs/hugin/internal/interaction"

// BranchSummary is a read-only view of one branch used by branch-comparison
// consumers. It tolerates in-progress branches: Complete and Suspended may
// both be false while work is pending.
type BranchSummary struct {
	Name      string
	Length    int
	Stepped   int
	LastKind  interaction.Kind
	Complete  bool
	Suspended bool
	Result    map[string]any
}

// CompareBranches summarizes the named branches (all active branches when
// none are given) in creation order. It is a cooperative scan: branches may
// keep advancing while it runs, and each summary is internally consistent
// but the set as a whole is not a transaction.
func (s *Stack) CompareBranches(names ...string) []BranchSummary {
	if len(names) == 0 {
		names = s.ActiveBranches()
	}
	out := make([]BranchSummary, 0, len(names))
	for _, name := range names {
		s.mu.RLock()
		ids := s.branches[name]
		cursor := s.cursors[name]
		var last *interaction.Record
		if len(ids) > 0 {
			last = s.records[ids[len(ids)-1]]
		}
		s.mu.RUnlock()

		summary := BranchSummary{Name: name, Length: len(ids), Stepped: cursor}
		if last != nil {
			summary.LastKind = last.Kind()
			if result, ok := last.Payload().(*interaction.TaskResult); ok {
				summary.Complete = true
				summary.Result = result.Result
			}
			summary.Suspended = cursor == len(ids) && interaction.Suspends(last.Kind())
		}
		out = append(out, summary)
	}
	return out
}
