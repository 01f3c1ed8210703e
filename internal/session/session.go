// Package session groups the engines of cooperating agents: it routes
// cross-agent delegations, resolves interaction ids across every agent's
// stack, and drives all stacks to quiescence.
package session

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gimlelabs/hugin/internal/condition"
	"github.com/gimlelabs/hugin/internal/config"
	"github.com/gimlelabs/hugin/internal/engine"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/logging"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/stack"
	"github.com/gimlelabs/hugin/internal/tool"
)

// Options configures a session. All agents share the same tool registry,
// condition registry, task set, and oracle adapter.
type Options struct {
	ID         string
	Tools      *tool.Registry
	AllowTools []string
	Conditions *condition.Registry
	Tasks      *config.TaskSet
	Oracle     oracle.Oracle
	Logger     logging.Logger
	Metrics    *engine.Metrics
}

// Session owns one engine per agent and implements the engine's Directory
// contract for cross-agent work.
type Session struct {
	id     string
	opts   Options
	logger logging.Logger

	mu      sync.RWMutex
	engines map[string]*engine.Engine
	order   []string
	// index maps every interaction id to its owning agent, maintained by
	// stack append listeners.
	index map[string]string
}

// New creates an empty session.
func New(opts Options) *Session {
	return &Session{
		id:      opts.ID,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		engines: make(map[string]*engine.Engine),
		index:   make(map[string]string),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// AddAgent creates an agent with a fresh stack, or returns the existing
// engine when the agent is already present.
func (s *Session) AddAgent(name string) (*engine.Engine, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: agent name required", engine.ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.engines[name]; ok {
		return existing, nil
	}
	return s.addAgentLocked(stack.New(name, s.logger))
}

// AdoptStack registers an agent over an existing stack, typically one
// restored from a snapshot.
func (s *Session) AdoptStack(st *stack.Stack) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engines[st.Agent()]; ok {
		return nil, fmt.Errorf("%w: agent %q already present", engine.ErrConfig, st.Agent())
	}
	for _, branch := range st.ActiveBranches() {
		for _, rec := range st.BranchInteractions(branch) {
			s.index[rec.ID()] = st.Agent()
		}
	}
	return s.addAgentLocked(st)
}

func (s *Session) addAgentLocked(st *stack.Stack) (*engine.Engine, error) {
	agent := st.Agent()
	st.AddListener(func(rec *interaction.Record) {
		s.mu.Lock()
		s.index[rec.ID()] = agent
		s.mu.Unlock()
	})

	e, err := engine.New(st, engine.Options{
		Tools:      s.opts.Tools,
		AllowTools: s.opts.AllowTools,
		Conditions: s.opts.Conditions,
		Tasks:      s.opts.Tasks,
		Oracle:     s.opts.Oracle,
		Directory:  s,
		Logger:     logging.OrNop(s.opts.Logger),
		Metrics:    s.opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.engines[agent] = e
	s.order = append(s.order, agent)
	s.logger.Info("session %s: agent %s joined", s.id, agent)
	return e, nil
}

// Engine returns the named agent's engine.
func (s *Session) Engine(agent string) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engines[agent]
	return e, ok
}

// Agents returns the agent names in join order.
func (s *Session) Agents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Delegate implements engine.Directory: it opens a task branch on the
// target agent's stack and arranges for an AgentResult referencing the
// terminal TaskResult to come back to the caller's branch.
func (s *Session) Delegate(_ context.Context, caller *stack.Stack, branch string, call *interaction.AgentCall) error {
	if call.Agent == "" {
		return fmt.Errorf("%w: delegation without target agent", engine.ErrConfig)
	}
	target, err := s.AddAgent(call.Agent)
	if err != nil {
		return err
	}

	taskBranch := fmt.Sprintf("task.%s", call.CallID)
	agent := call.Agent
	callID := call.CallID

	// The waiter must be in place before the definition lands: the target
	// engine may be driving concurrently and can run the task branch to its
	// TaskResult the moment the append is visible.
	err = target.WaitBranch(taskBranch, func(resultID string) error {
		back := interaction.New(&interaction.AgentResult{
			Agent:    agent,
			CallID:   callID,
			ResultID: resultID,
		})
		return caller.Append(back, branch)
	})
	if err != nil {
		return err
	}

	def := interaction.New(&interaction.TaskDefinition{
		Template:     call.Template,
		Inputs:       call.Inputs,
		TargetBranch: taskBranch,
	})
	if err := target.Stack().Append(def, taskBranch); err != nil {
		target.DropWaiter(taskBranch)
		return err
	}
	s.logger.Debug("session %s: %s delegated %q to %s on %s",
		s.id, caller.Agent(), call.Template, agent, taskBranch)
	return nil
}

// Find implements engine.Directory: it resolves an interaction id across
// all agent stacks.
func (s *Session) Find(id string) (*interaction.Record, bool) {
	s.mu.RLock()
	agent, ok := s.index[id]
	var e *engine.Engine
	if ok {
		e = s.engines[agent]
	}
	s.mu.RUnlock()
	if e == nil {
		return nil, false
	}
	return e.Stack().Get(id)
}

// Drive advances every agent until the whole session is quiescent. Agents
// step concurrently within a round; rounds repeat while any agent makes
// progress, so appends that cross stacks mid-round are picked up.
func (s *Session) Drive(ctx context.Context) (int, error) {
	total := 0
	for {
		engines := s.snapshotEngines()
		counts := make([]int, len(engines))

		g, gctx := errgroup.WithContext(ctx)
		for i, e := range engines {
			g.Go(func() error {
				n, err := e.Drive(gctx)
				counts[i] = n
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}

		progressed := 0
		for _, n := range counts {
			progressed += n
		}
		total += progressed
		if progressed == 0 {
			return total, nil
		}
	}
}

// Heartbeat ticks every agent's scheduler clock, then drives any resumed
// branches.
func (s *Session) Heartbeat(ctx context.Context) (int, error) {
	resumed := 0
	for _, e := range s.snapshotEngines() {
		n, err := e.Heartbeat()
		if err != nil {
			return resumed, err
		}
		resumed += n
	}
	if resumed == 0 {
		return 0, nil
	}
	if _, err := s.Drive(ctx); err != nil {
		return resumed, err
	}
	return resumed, nil
}

// Rehydrate restores the in-memory continuations of every agent after a
// snapshot restore: engine-local chain waiters first, then the cross-agent
// delegation waiters for branches suspended at an agent call.
func (s *Session) Rehydrate(ctx context.Context) error {
	engines := s.snapshotEngines()
	for _, e := range engines {
		if err := e.Rehydrate(ctx); err != nil {
			return err
		}
	}
	for _, e := range engines {
		if err := s.rehydrateDelegations(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) rehydrateDelegations(ctx context.Context, e *engine.Engine) error {
	st := e.Stack()
	for _, branch := range st.ActiveBranches() {
		if e.Steppable(branch) {
			continue
		}
		last, ok := st.Last(branch)
		if !ok || last.Kind() != interaction.KindAgentCall {
			continue
		}
		call := last.Payload().(*interaction.AgentCall)
		target, ok := s.Engine(call.Agent)
		if !ok {
			return fmt.Errorf("%w: delegation to absent agent %q", engine.ErrProtocol, call.Agent)
		}

		taskBranch := fmt.Sprintf("task.%s", call.CallID)
		agent := call.Agent
		callID := call.CallID
		waiter := func(resultID string) error {
			back := interaction.New(&interaction.AgentResult{
				Agent:    agent,
				CallID:   callID,
				ResultID: resultID,
			})
			return st.Append(back, branch)
		}

		// A delegation whose child already finished is replayed directly.
		if done, ok := target.Stack().Last(taskBranch); ok &&
			target.Stack().IsBranchComplete(taskBranch) && !target.Steppable(taskBranch) {
			if err := waiter(done.ID()); err != nil {
				return err
			}
			continue
		}
		if err := target.WaitBranch(taskBranch, waiter); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) snapshotEngines() []*engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Engine, 0, len(s.order))
	for _, agent := range s.order {
		out = append(out, s.engines[agent])
	}
	return out
}

// Snapshots returns one snapshot per agent stack, for persistence.
func (s *Session) Snapshots() []stack.Snapshot {
	engines := s.snapshotEngines()
	out := make([]stack.Snapshot, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Stack().Snapshot())
	}
	return out
}
