// Package engine implements the interaction-stack execution engine: the
// variant dispatch table, the branch stepping loop, the suspension and
// resumption protocol, and task decomposition.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/gimlelabs/hugin/internal/condition"
	"github.com/gimlelabs/hugin/internal/config"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/logging"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/stack"
	"github.com/gimlelabs/hugin/internal/tool"
)

// Directory is the session-level collaborator the engine needs for
// cross-agent work: routing delegations and resolving interaction ids
// across every agent's stack.
type Directory interface {
	// Delegate routes an agent call raised on the caller's branch to the
	// target agent and arranges for an AgentResult to be appended back to
	// that branch once the child task completes.
	Delegate(ctx context.Context, caller *stack.Stack, branch string, call *interaction.AgentCall) error
	// Find resolves an interaction id across all agents.
	Find(id string) (*interaction.Record, bool)
}

// stepFunc advances one interaction. A true continue value means the branch
// keeps stepping; false suspends it at this interaction.
type stepFunc func(ctx context.Context, rec *interaction.Record) (bool, error)

// Waiter is invoked when a TaskResult is stepped on the branch it watches.
type Waiter func(resultID string) error

// Options configures an Engine. Stack is required; everything else has a
// working default.
type Options struct {
	Tools      *tool.Registry
	AllowTools []string
	Conditions *condition.Registry
	Tasks      *config.TaskSet
	Oracle     oracle.Oracle
	Directory  Directory
	Logger     logging.Logger
	Metrics    *Metrics
}

// Engine steps one agent's interaction stack. The stepping model is
// cooperative and single-threaded per engine: step calls run to completion
// and the only suspension points are false returns.
type Engine struct {
	stack      *stack.Stack
	tools      *tool.Registry
	allow      map[string]struct{}
	conditions *condition.Registry
	tasks      *config.TaskSet
	oracle     oracle.Oracle
	directory  Directory
	logger     logging.Logger
	metrics    *Metrics
	handlers   map[interaction.Kind]stepFunc

	mu      sync.Mutex
	tick    int
	waiters map[string]Waiter
}

// New creates an engine over the given stack.
func New(s *stack.Stack, opts Options) (*Engine, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: engine requires a stack", ErrConfig)
	}
	tools := opts.Tools
	if tools == nil {
		tools = tool.NewRegistry()
	}
	conditions := opts.Conditions
	if conditions == nil {
		conditions = condition.NewRegistry()
	}
	var allow map[string]struct{}
	if len(opts.AllowTools) > 0 {
		allow = make(map[string]struct{}, len(opts.AllowTools))
		for _, name := range opts.AllowTools {
			allow[name] = struct{}{}
		}
	}

	e := &Engine{
		stack:      s,
		tools:      tools,
		allow:      allow,
		conditions: conditions,
		tasks:      opts.Tasks,
		oracle:     opts.Oracle,
		directory:  opts.Directory,
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		waiters:    make(map[string]Waiter),
	}
	e.handlers = map[interaction.Kind]stepFunc{
		interaction.KindToolCall:       e.stepToolCall,
		interaction.KindToolResult:     e.stepNoop,
		interaction.KindAgentCall:      e.stepAgentCall,
		interaction.KindAgentResult:    e.stepAgentResult,
		interaction.KindTaskDefinition: e.stepTaskDefinition,
		interaction.KindTaskResult:     e.stepTaskResult,
		interaction.KindTaskChain:      e.stepTaskChain,
		interaction.KindAskHuman:       e.stepAsk,
		interaction.KindHumanResponse:  e.stepHumanResponse,
		interaction.KindAskOracle:      e.stepAsk,
		interaction.KindOracleResponse: e.stepOracleResponse,
		interaction.KindExternalInput:  e.stepExternalInput,
		interaction.KindWaiting:        e.stepWaiting,
	}
	return e, nil
}

// Stack returns the engine's stack.
func (e *Engine) Stack() *stack.Stack { return e.stack }

// Tick returns the current heartbeat counter.
func (e *Engine) Tick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// WaitBranch registers a continuation invoked when a TaskResult is stepped
// on the given branch. One waiter per branch; a second registration is a
// protocol violation.
func (e *Engine) WaitBranch(branch string, waiter Waiter) error {
	if waiter == nil {
		return fmt.Errorf("%w: nil waiter for branch %s", ErrConfig, branch)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.waiters[branch]; exists {
		return fmt.Errorf("%w: branch %s already has a waiter", ErrProtocol, branch)
	}
	e.waiters[branch] = waiter
	return nil
}

// DropWaiter removes the waiter registered for branch, if any. Callers
// that register a waiter ahead of an append use it to roll back when the
// append fails.
func (e *Engine) DropWaiter(branch string) {
	e.mu.Lock()
	delete(e.waiters, branch)
	e.mu.Unlock()
}

func (e *Engine) takeWaiter(branch string) Waiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	waiter := e.waiters[branch]
	delete(e.waiters, branch)
	return waiter
}

// prior returns the record immediately preceding rec on its branch, or nil
// when rec opens the branch.
func (e *Engine) prior(rec *interaction.Record) *interaction.Record {
	records := e.stack.BranchInteractions(rec.Branch())
	for i, r := range records {
		if r.ID() == rec.ID() {
			if i > 0 {
				return records[i-1]
			}
			return nil
		}
	}
	return nil
}
