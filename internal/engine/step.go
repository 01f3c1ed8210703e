package engine

import (
	"context"
	"fmt"

	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/tool"
)

// stepNoop covers self-contained variants that perform no transition of
// their own (ToolResult): the branch simply keeps stepping.
func (e *Engine) stepNoop(context.Context, *interaction.Record) (bool, error) {
	return true, nil
}

// stepAsk covers the pure suspension points (AskHuman, AskOracle). The
// transition logic lives in the matching response variant.
func (e *Engine) stepAsk(context.Context, *interaction.Record) (bool, error) {
	return false, nil
}

func (e *Engine) stepToolCall(ctx context.Context, rec *interaction.Record) (bool, error) {
	call := rec.Payload().(*interaction.ToolCall)

	fail := func(format string, args ...any) (bool, error) {
		e.metrics.observeToolError()
		e.logger.Warn("tool call %s: %s", rec.ID(), fmt.Sprintf(format, args...))
		result := interaction.New(&interaction.ToolResult{
			CallID:  rec.ID(),
			IsError: true,
			Content: map[string]any{"error": fmt.Sprintf(format, args...)},
		})
		if err := e.stack.Append(result, rec.Branch()); err != nil {
			return false, err
		}
		return true, nil
	}

	if e.allow != nil {
		if _, ok := e.allow[call.Tool]; !ok {
			return fail("tool not allowed: %s", call.Tool)
		}
	}
	t, err := e.tools.Get(call.Tool)
	if err != nil {
		return fail("%v", err)
	}
	if err := tool.ValidateArgs(t, call.Args); err != nil {
		return fail("%v", err)
	}

	res, err := t.Execute(ctx, tool.Invocation{Stack: e.stack, Branch: rec.Branch(), Args: call.Args})
	if err != nil {
		return fail("tool %s failed: %v", call.Tool, err)
	}
	if res == nil {
		return fail("tool %s returned no result", call.Tool)
	}

	switch {
	case res.Substitute != nil:
		if err := e.stack.Append(res.Substitute, rec.Branch()); err != nil {
			return false, err
		}
	case res.Delegation != nil:
		agentCall := interaction.New(&interaction.AgentCall{
			Agent:    res.Delegation.Agent,
			Template: res.Delegation.Template,
			Inputs:   res.Delegation.Inputs,
			CallID:   rec.ID(),
		})
		if err := e.stack.Append(agentCall, rec.Branch()); err != nil {
			return false, err
		}
	default:
		if res.IsError {
			e.metrics.observeToolError()
		}
		result := interaction.New(&interaction.ToolResult{
			CallID:  rec.ID(),
			IsError: res.IsError,
			Content: res.Content,
		})
		if err := e.stack.Append(result, rec.Branch()); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *Engine) stepAgentCall(ctx context.Context, rec *interaction.Record) (bool, error) {
	call := rec.Payload().(*interaction.AgentCall)
	if e.directory == nil {
		return false, fmt.Errorf("%w: agent call %s with no directory configured", ErrConfig, rec.ID())
	}
	if err := e.directory.Delegate(ctx, e.stack, rec.Branch(), call); err != nil {
		return false, err
	}
	// The branch suspends until the child's result comes back as an
	// AgentResult append.
	return false, nil
}

func (e *Engine) stepAgentResult(_ context.Context, rec *interaction.Record) (bool, error) {
	res := rec.Payload().(*interaction.AgentResult)

	target, ok := e.stack.Get(res.ResultID)
	if !ok && e.directory != nil {
		target, ok = e.directory.Find(res.ResultID)
	}
	if !ok {
		return false, fmt.Errorf("%w: agent result references unknown interaction %s", ErrProtocol, res.ResultID)
	}
	taskResult, ok := target.Payload().(*interaction.TaskResult)
	if !ok {
		return false, fmt.Errorf("%w: agent result references %s of kind %s, want %s",
			ErrProtocol, res.ResultID, target.Kind(), interaction.KindTaskResult)
	}

	ask := interaction.New(&interaction.AskOracle{
		PromptKind: interaction.PromptToolResult,
		ToolCallID: res.CallID,
		Inputs: map[string]any{
			"result":      taskResult.Result,
			"finish_type": string(taskResult.FinishType),
		},
	})
	if err := e.stack.Append(ask, rec.Branch()); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stepTaskDefinition(_ context.Context, rec *interaction.Record) (bool, error) {
	def := rec.Payload().(*interaction.TaskDefinition)
	if e.tasks == nil {
		return false, fmt.Errorf("%w: task %q with no task templates configured", ErrConfig, def.Template)
	}
	prompt, err := e.tasks.Render(def.Template, def.Inputs)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	target := def.TargetBranch
	if target == "" {
		target = rec.Branch()
	}
	ask := interaction.New(&interaction.AskOracle{
		PromptKind: interaction.PromptTemplate,
		Template:   def.Template,
		Text:       prompt,
		Inputs:     def.Inputs,
	})
	if err := e.stack.Append(ask, target); err != nil {
		return false, err
	}
	e.logger.Debug("task %q materialized on %s/%s", def.Template, e.stack.Agent(), target)
	return true, nil
}

func (e *Engine) stepTaskResult(_ context.Context, rec *interaction.Record) (bool, error) {
	res := rec.Payload().(*interaction.TaskResult)
	e.logger.Info("task result on %s/%s: %s", e.stack.Agent(), rec.Branch(), res.FinishType)

	if waiter := e.takeWaiter(rec.Branch()); waiter != nil {
		if err := waiter(rec.ID()); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *Engine) stepTaskChain(_ context.Context, rec *interaction.Record) (bool, error) {
	chain := rec.Payload().(*interaction.TaskChain)
	if len(chain.Links) == 0 {
		return false, fmt.Errorf("%w: task chain %s has no links", ErrConfig, rec.ID())
	}
	if chain.Index < 0 || chain.Index >= len(chain.Links) {
		return false, fmt.Errorf("%w: task chain %s index %d out of range", ErrProtocol, rec.ID(), chain.Index)
	}

	chainID := chain.ChainID
	if chainID == "" {
		chainID = rec.ID()
	}
	link := chain.Links[chain.Index]

	inputs := make(map[string]any, len(link.Inputs)+1)
	for k, v := range link.Inputs {
		inputs[k] = v
	}
	if chain.Index > 0 && link.InputKey != "" {
		// The prior link's result payload binds verbatim under the
		// chain's declared input name.
		inputs[link.InputKey] = chain.Prior
	}

	childBranch := fmt.Sprintf("%s.%s.%d", rec.Branch(), chainID, chain.Index)
	def := interaction.New(&interaction.TaskDefinition{
		Template:     link.Template,
		Inputs:       inputs,
		TargetBranch: childBranch,
	})
	if err := e.stack.Append(def, childBranch); err != nil {
		return false, err
	}

	waiter := e.chainWaiter(chainID, rec.Branch(), chain.Links, chain.Index)
	if err := e.WaitBranch(childBranch, waiter); err != nil {
		return false, err
	}
	// The chain link suspends its branch until the child task completes.
	return false, nil
}

// chainWaiter builds the continuation fired when a chain link's child task
// completes: propagate failure, finish the chain on the last link, or
// append the next chain link piping the prior result forward.
func (e *Engine) chainWaiter(chainID, origin string, links []interaction.ChainLink, index int) Waiter {
	return func(resultID string) error {
		target, ok := e.stack.Get(resultID)
		if !ok {
			return fmt.Errorf("%w: chain %s lost result %s", ErrProtocol, chainID, resultID)
		}
		taskResult, ok := target.Payload().(*interaction.TaskResult)
		if !ok {
			return fmt.Errorf("%w: chain %s continuation references %s of kind %s",
				ErrProtocol, chainID, resultID, target.Kind())
		}

		var next *interaction.Record
		switch {
		case taskResult.FinishType == interaction.FinishFailure:
			// A failing link fails the whole chain with its payload.
			next = interaction.New(&interaction.TaskResult{
				FinishType: interaction.FinishFailure,
				Result:     taskResult.Result,
			})
		case index == len(links)-1:
			next = interaction.New(&interaction.TaskResult{
				FinishType: interaction.FinishSuccess,
				Result:     taskResult.Result,
			})
		default:
			next = interaction.New(&interaction.TaskChain{
				ChainID: chainID,
				Links:   links,
				Index:   index + 1,
				Prior:   taskResult.Result,
			})
		}
		return e.stack.Append(next, origin)
	}
}

func (e *Engine) stepHumanResponse(_ context.Context, rec *interaction.Record) (bool, error) {
	resp := rec.Payload().(*interaction.HumanResponse)

	prior := e.prior(rec)
	if prior == nil || prior.Kind() != interaction.KindAskHuman {
		return false, fmt.Errorf("%w: human response %s has no matching ask on branch %s",
			ErrProtocol, rec.ID(), rec.Branch())
	}
	ask := prior.Payload().(*interaction.AskHuman)

	next := &interaction.AskOracle{
		PromptKind: interaction.PromptText,
		Text:       resp.Response,
		Inputs: map[string]any{
			"question": ask.Question,
			"response": resp.Response,
		},
	}
	if ask.ResponseTemplate != "" {
		next.PromptKind = interaction.PromptTemplate
		next.Template = ask.ResponseTemplate
	}
	if err := e.stack.Append(interaction.New(next), rec.Branch()); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stepOracleResponse(_ context.Context, rec *interaction.Record) (bool, error) {
	resp := rec.Payload().(*interaction.OracleResponse)

	prior := e.prior(rec)
	if prior == nil || prior.Kind() != interaction.KindAskOracle {
		return false, fmt.Errorf("%w: oracle response %s has no matching ask on branch %s",
			ErrProtocol, rec.ID(), rec.Branch())
	}

	decision, err := oracle.ParseDecision(resp.Raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var next *interaction.Record
	switch decision.Action {
	case oracle.ActionToolCall:
		next = interaction.New(&interaction.ToolCall{Tool: decision.Tool, Args: decision.Args})
	case oracle.ActionFinish:
		next = interaction.New(&interaction.TaskResult{
			FinishType: decision.FinishType,
			Result:     decision.Result,
		})
	}
	if err := e.stack.Append(next, rec.Branch()); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stepExternalInput(_ context.Context, rec *interaction.Record) (bool, error) {
	input := rec.Payload().(*interaction.ExternalInput)

	ask := interaction.New(&interaction.AskOracle{
		PromptKind: interaction.PromptText,
		Inputs: map[string]any{
			"input":  input.Value,
			"source": input.Source,
		},
	})
	if err := e.stack.Append(ask, rec.Branch()); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) stepWaiting(_ context.Context, rec *interaction.Record) (bool, error) {
	waiting := rec.Payload().(*interaction.Waiting)
	if waiting.NextTool == "" {
		return false, fmt.Errorf("%w: waiting %s has no deferred tool", ErrConfig, rec.ID())
	}
	// Deferred payload fill: the origin tick anchors ticks_elapsed.
	e.mu.Lock()
	waiting.SinceTick = e.tick
	e.mu.Unlock()
	return false, nil
}
