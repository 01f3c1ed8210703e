package engine

import (
	"context"
	"fmt"

	"github.com/gimlelabs/hugin/internal/condition"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/oracle"
)

// StepBranch steps the branch's frontier until it halts: suspended at an
// ask or waiting point, out of unstepped interactions, or failed. Within
// the branch, step order equals append order and every interaction is
// stepped exactly once.
func (e *Engine) StepBranch(ctx context.Context, branch string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := e.stack.NextUnstepped(branch)
		if !ok {
			return nil
		}

		handler, ok := e.handlers[rec.Kind()]
		if !ok {
			// Unreachable with the closed variant set, but a decode bug
			// must not pass silently.
			_ = e.stack.MarkStepped(branch)
			return fmt.Errorf("%w: no handler for kind %s", ErrProtocol, rec.Kind())
		}

		cont, err := handler(ctx, rec)
		// The frontier advances unconditionally: even a failed step was
		// invoked once and is never re-invoked.
		if markErr := e.stack.MarkStepped(branch); markErr != nil {
			return markErr
		}
		e.metrics.observeStep(string(rec.Kind()))

		if err != nil {
			return fmt.Errorf("step %s %s on %s: %w", rec.Kind(), rec.ID(), branch, err)
		}
		if !cont {
			e.metrics.observeSuspension()
			e.logger.Debug("branch %s/%s suspended at %s", e.stack.Agent(), branch, rec.Kind())
			return nil
		}
	}
}

// Steppable reports whether the branch has an unstepped frontier.
func (e *Engine) Steppable(branch string) bool {
	_, ok := e.stack.NextUnstepped(branch)
	return ok
}

// Drive advances every steppable branch round-robin until the whole stack
// is quiescent: each active branch either complete, suspended, or idle. It
// returns the number of interactions stepped. When an oracle adapter is
// configured, pending oracle asks are serviced in the same loop; without
// one they stay suspended for an external channel to resume.
func (e *Engine) Drive(ctx context.Context) (int, error) {
	total := 0
	for {
		progressed := false
		// ActiveBranches is re-read every round so branches spawned
		// mid-round get picked up.
		for _, branch := range e.stack.ActiveBranches() {
			if e.Steppable(branch) {
				before := e.stack.SteppedCount(branch)
				err := e.StepBranch(ctx, branch)
				total += e.stack.SteppedCount(branch) - before
				if err != nil {
					return total, err
				}
				progressed = true
				continue
			}
			serviced, err := e.serviceOracle(ctx, branch)
			if err != nil {
				return total, err
			}
			if serviced {
				progressed = true
			}
		}
		e.metrics.setBranches(len(e.stack.ActiveBranches()))
		if !progressed {
			return total, nil
		}
	}
}

// serviceOracle resolves a branch suspended at an oracle ask by calling
// the configured oracle adapter and appending its raw decision.
func (e *Engine) serviceOracle(ctx context.Context, branch string) (bool, error) {
	if e.oracle == nil {
		return false, nil
	}
	last, ok := e.stack.Last(branch)
	if !ok || last.Kind() != interaction.KindAskOracle || e.Steppable(branch) {
		return false, nil
	}
	ask := last.Payload().(*interaction.AskOracle)

	raw, err := e.oracle.Decide(ctx, oracle.Request{
		Kind:       ask.PromptKind,
		ToolCallID: ask.ToolCallID,
		Text:       ask.Text,
		Template:   ask.Template,
		Prompt:     ask.Text,
		Inputs:     ask.Inputs,
	})
	if err != nil {
		return false, fmt.Errorf("oracle decide on %s: %w", branch, err)
	}
	resp := interaction.New(&interaction.OracleResponse{Raw: raw})
	if err := e.stack.Append(resp, branch); err != nil {
		return false, err
	}
	return true, nil
}

// Heartbeat advances the scheduler clock and re-arms branches suspended at
// a waiting interaction whose condition now holds, by synthesizing the
// deferred tool call. It returns how many branches resumed; the caller
// drives the stack afterwards.
func (e *Engine) Heartbeat() (int, error) {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()
	e.metrics.observeHeartbeat()

	resumed := 0
	for _, branch := range e.stack.ActiveBranches() {
		if e.Steppable(branch) {
			continue
		}
		last, ok := e.stack.Last(branch)
		if !ok || last.Kind() != interaction.KindWaiting {
			continue
		}
		waiting := last.Payload().(*interaction.Waiting)

		satisfied, err := e.conditions.Eval(waiting.Condition.Name, condition.Env{
			Tick:   tick,
			Origin: waiting.SinceTick,
			Stack:  e.stack,
		}, waiting.Condition.Params)
		if err != nil {
			return resumed, fmt.Errorf("%w: condition %q on %s: %v",
				ErrConfig, waiting.Condition.Name, branch, err)
		}
		if !satisfied {
			continue
		}

		call := interaction.New(&interaction.ToolCall{
			Tool: waiting.NextTool,
			Args: waiting.NextToolArgs,
		})
		if err := e.stack.Append(call, branch); err != nil {
			return resumed, err
		}
		e.logger.Debug("condition %q satisfied, resumed %s/%s with %s",
			waiting.Condition.Name, e.stack.Agent(), branch, waiting.NextTool)
		resumed++
	}
	return resumed, nil
}

// Rehydrate re-registers the in-memory chain waiters a restored stack
// needs: every fully-stepped chain frontier gets its child-branch waiter
// back, and continuations whose child already completed are replayed. The
// scheduler clock is advanced past any persisted waiting origin so
// tick-based conditions keep counting forward.
func (e *Engine) Rehydrate(ctx context.Context) error {
	for _, branch := range e.stack.ActiveBranches() {
		if e.Steppable(branch) {
			continue
		}
		last, ok := e.stack.Last(branch)
		if !ok {
			continue
		}
		if waiting, isWaiting := last.Payload().(*interaction.Waiting); isWaiting {
			e.mu.Lock()
			if waiting.SinceTick > e.tick {
				e.tick = waiting.SinceTick
			}
			e.mu.Unlock()
			continue
		}
		if last.Kind() != interaction.KindTaskChain {
			continue
		}
		chain := last.Payload().(*interaction.TaskChain)
		chainID := chain.ChainID
		if chainID == "" {
			chainID = last.ID()
		}
		childBranch := fmt.Sprintf("%s.%s.%d", branch, chainID, chain.Index)

		// Stepping the chain registered this waiter originally; restore
		// loses it, so rebuild by re-stepping against the existing child
		// branch state.
		rebuilt := e.chainWaiter(chainID, branch, chain.Links, chain.Index)
		if childRec, done := e.completedResult(childBranch); done {
			if err := rebuilt(childRec.ID()); err != nil {
				return err
			}
			if err := e.StepBranch(ctx, branch); err != nil {
				return err
			}
			continue
		}
		if err := e.WaitBranch(childBranch, rebuilt); err != nil {
			return err
		}
	}
	return nil
}

// completedResult returns the branch's terminal TaskResult when the branch
// is complete and fully stepped.
func (e *Engine) completedResult(branch string) (*interaction.Record, bool) {
	if e.Steppable(branch) || !e.stack.IsBranchComplete(branch) {
		return nil, false
	}
	last, ok := e.stack.Last(branch)
	if !ok {
		return nil, false
	}
	return last, true
}
