package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gimlelabs/hugin/internal/config"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/stack"
	"github.com/gimlelabs/hugin/internal/tool"
	"github.com/gimlelabs/hugin/internal/tool/builtin"
)

func testTaskSet(t *testing.T) *config.TaskSet {
	t.Helper()
	tasks, err := config.NewTaskSet(&config.Config{
		Tasks: []config.TaskTemplate{
			{
				Name:   "greet",
				Prompt: "Say hi to {{input.name}}.",
				Inputs: []config.InputSpec{{Name: "name", Required: true}},
			},
			{
				Name:   "summarize",
				Prompt: "Summarize {{input.text}}.",
				Inputs: []config.InputSpec{{Name: "text", Required: true}},
			},
		},
	})
	require.NoError(t, err)
	return tasks
}

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Tools == nil {
		registry := tool.NewRegistry()
		builtin.RegisterAll(registry)
		opts.Tools = registry
	}
	if opts.Tasks == nil {
		opts.Tasks = testTaskSet(t)
	}
	e, err := New(stack.New("worker", nil), opts)
	require.NoError(t, err)
	return e
}

func lastOn(t *testing.T, s *stack.Stack, branch string) *interaction.Record {
	t.Helper()
	rec, ok := s.Last(branch)
	require.True(t, ok)
	return rec
}

func TestEchoToolCallProducesToolResult(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "hi"}})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	stepped, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stepped)

	last := lastOn(t, e.Stack(), stack.RootBranch)
	require.Equal(t, interaction.KindToolResult, last.Kind())
	result := last.Payload().(*interaction.ToolResult)
	require.False(t, result.IsError)
	require.Equal(t, map[string]any{"echoed": "hi"}, result.Content)
	require.Equal(t, call.ID(), result.CallID)
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "no_such_tool"})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	last := lastOn(t, e.Stack(), stack.RootBranch)
	result := last.Payload().(*interaction.ToolResult)
	require.True(t, result.IsError)
	require.Contains(t, result.Content["error"], "no_such_tool")
}

func TestToolAllowlistBlocksUnlistedTool(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{AllowTools: []string{"echo"}})
	call := interaction.New(&interaction.ToolCall{Tool: "set_state", Args: map[string]any{
		"key": "k", "value": "v",
	}})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	result := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.ToolResult)
	require.True(t, result.IsError)
	require.Contains(t, result.Content["error"], "not allowed")
}

func TestMissingRequiredArgBecomesErrorResult(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "echo"})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	result := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.ToolResult)
	require.True(t, result.IsError)
	require.Contains(t, result.Content["error"], "msg")
}

func TestAskHumanSuspendsUntilResponse(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	ask := interaction.New(&interaction.AskHuman{Question: "ok?"})
	require.NoError(t, e.Stack().Append(ask, stack.RootBranch))

	stepped, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stepped)
	require.False(t, e.Stack().IsBranchComplete(stack.RootBranch))
	require.False(t, e.Steppable(stack.RootBranch))
	require.Equal(t, interaction.KindAskHuman, lastOn(t, e.Stack(), stack.RootBranch).Kind())

	resp := interaction.New(&interaction.HumanResponse{Response: "yes"})
	require.NoError(t, e.Stack().Append(resp, stack.RootBranch))

	_, err = e.Drive(context.Background())
	require.NoError(t, err)

	last := lastOn(t, e.Stack(), stack.RootBranch)
	require.Equal(t, interaction.KindAskOracle, last.Kind())
	follow := last.Payload().(*interaction.AskOracle)
	require.Equal(t, interaction.PromptText, follow.PromptKind)
	require.Equal(t, "yes", follow.Text)
	require.Equal(t, "ok?", follow.Inputs["question"])
}

func TestHumanResponseWithoutAskIsProtocolViolation(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	resp := interaction.New(&interaction.HumanResponse{Response: "yes"})
	require.NoError(t, e.Stack().Append(resp, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrProtocol)
	// Even a failed step consumes the interaction exactly once.
	require.Equal(t, 1, e.Stack().SteppedCount(stack.RootBranch))
	require.False(t, e.Steppable(stack.RootBranch))
}

func TestStepOrderMatchesAppendOrder(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	first := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "one"}})
	second := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "two"}})
	require.NoError(t, e.Stack().Append(first, stack.RootBranch))
	require.NoError(t, e.Stack().Append(second, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	records := e.Stack().BranchInteractions(stack.RootBranch)
	require.Len(t, records, 4)
	require.Equal(t, first.ID(), records[2].Payload().(*interaction.ToolResult).CallID)
	require.Equal(t, second.ID(), records[3].Payload().(*interaction.ToolResult).CallID)
	require.Equal(t, 4, e.Stack().SteppedCount(stack.RootBranch))
}

func TestTaskDefinitionUnknownTemplateIsConfigError(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	def := interaction.New(&interaction.TaskDefinition{Template: "nonexistent"})
	require.NoError(t, e.Stack().Append(def, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrConfig)
}

func TestAgentResultUnknownIDIsProtocolViolation(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	res := interaction.New(&interaction.AgentResult{ResultID: "in_missing"})
	require.NoError(t, e.Stack().Append(res, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestAgentResultWrongKindIsProtocolViolation(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "x"}})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))
	require.NoError(t, e.StepBranch(context.Background(), stack.RootBranch))

	res := interaction.New(&interaction.AgentResult{ResultID: call.ID()})
	require.NoError(t, e.Stack().Append(res, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrProtocol)
	require.Contains(t, err.Error(), "tool_call")
}

func TestAgentResultFeedsResultIntoOracleRequest(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	done := interaction.New(&interaction.TaskResult{
		FinishType: interaction.FinishSuccess,
		Result:     map[string]any{"answer": float64(42)},
	})
	require.NoError(t, e.Stack().Append(done, "side"))
	require.NoError(t, e.StepBranch(context.Background(), "side"))

	res := interaction.New(&interaction.AgentResult{CallID: "in_origin", ResultID: done.ID()})
	require.NoError(t, e.Stack().Append(res, stack.RootBranch))
	require.NoError(t, e.StepBranch(context.Background(), stack.RootBranch))

	last := lastOn(t, e.Stack(), stack.RootBranch)
	require.Equal(t, interaction.KindAskOracle, last.Kind())
	ask := last.Payload().(*interaction.AskOracle)
	require.Equal(t, interaction.PromptToolResult, ask.PromptKind)
	require.Equal(t, "in_origin", ask.ToolCallID)
	require.Equal(t, map[string]any{"answer": float64(42)}, ask.Inputs["result"])
	require.Equal(t, "success", ask.Inputs["finish_type"])
}

func TestScriptedOracleDrivesTaskToCompletion(t *testing.T) {
	t.Parallel()

	scripted := oracle.NewScripted(
		`{"action": "tool_call", "tool": "echo", "args": {"msg": "hello Ada"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"greeted": "Ada"}}`,
	)
	e := testEngine(t, Options{Oracle: scripted})

	def := interaction.New(&interaction.TaskDefinition{
		Template: "greet",
		Inputs:   map[string]any{"name": "Ada"},
	})
	require.NoError(t, e.Stack().Append(def, stack.RootBranch))

	// First drive: materialize + first oracle decision + tool run leaves the
	// branch idle at the tool result.
	_, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.Equal(t, interaction.KindToolResult, lastOn(t, e.Stack(), stack.RootBranch).Kind())

	requests := scripted.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, interaction.PromptTemplate, requests[0].Kind)
	require.Equal(t, "Say hi to Ada.", requests[0].Text)

	// The second decision arrives through the suspension pair again.
	ask := interaction.New(&interaction.AskOracle{PromptKind: interaction.PromptToolResult})
	require.NoError(t, e.Stack().Append(ask, stack.RootBranch))
	_, err = e.Drive(context.Background())
	require.NoError(t, err)

	require.True(t, e.Stack().IsBranchComplete(stack.RootBranch))
	final := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.TaskResult)
	require.Equal(t, interaction.FinishSuccess, final.FinishType)
	require.Equal(t, map[string]any{"greeted": "Ada"}, final.Result)
}

func TestMalformedOracleDecisionIsProtocolViolation(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	ask := interaction.New(&interaction.AskOracle{PromptKind: interaction.PromptText})
	require.NoError(t, e.Stack().Append(ask, stack.RootBranch))
	require.NoError(t, e.StepBranch(context.Background(), stack.RootBranch))

	resp := interaction.New(&interaction.OracleResponse{Raw: `{"action": "dance"}`})
	require.NoError(t, e.Stack().Append(resp, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestTaskChainPipesResultsBetweenLinks(t *testing.T) {
	t.Parallel()

	scripted := oracle.NewScripted(
		`{"action": "finish", "finish_type": "success", "result": {"text": "draft"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"summary": "done"}}`,
	)
	e := testEngine(t, Options{Oracle: scripted})

	chain := interaction.New(&interaction.TaskChain{
		ChainID: "pipeline",
		Links: []interaction.ChainLink{
			{Template: "greet", Inputs: map[string]any{"name": "Ada"}},
			{Template: "summarize", InputKey: "text"},
		},
	})
	require.NoError(t, e.Stack().Append(chain, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	require.True(t, e.Stack().IsBranchComplete(stack.RootBranch))
	final := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.TaskResult)
	require.Equal(t, interaction.FinishSuccess, final.FinishType)
	require.Equal(t, map[string]any{"summary": "done"}, final.Result)

	// Each link ran on its own child branch; the second one received the
	// first link's payload under its declared input key.
	require.Contains(t, e.Stack().ActiveBranches(), "root.pipeline.0")
	require.Contains(t, e.Stack().ActiveBranches(), "root.pipeline.1")
	second := e.Stack().BranchInteractions("root.pipeline.1")
	require.NotEmpty(t, second)
	secondDef := second[0].Payload().(*interaction.TaskDefinition)
	require.Equal(t, map[string]any{"text": "draft"}, secondDef.Inputs["text"])
}

func TestTaskChainFailingLinkFailsChain(t *testing.T) {
	t.Parallel()

	scripted := oracle.NewScripted(
		`{"action": "finish", "finish_type": "failure", "result": {"reason": "no input"}}`,
	)
	e := testEngine(t, Options{Oracle: scripted})

	chain := interaction.New(&interaction.TaskChain{
		Links: []interaction.ChainLink{
			{Template: "greet", Inputs: map[string]any{"name": "Ada"}},
			{Template: "summarize", InputKey: "text"},
		},
	})
	require.NoError(t, e.Stack().Append(chain, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	final := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.TaskResult)
	require.Equal(t, interaction.FinishFailure, final.FinishType)
	require.Equal(t, map[string]any{"reason": "no input"}, final.Result)
	// The second link never opened.
	require.NotContains(t, e.Stack().ActiveBranches(), "root."+chain.ID()+".1")
}

func TestTaskChainWithoutLinksIsConfigError(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	chain := interaction.New(&interaction.TaskChain{})
	require.NoError(t, e.Stack().Append(chain, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrConfig)
}

func TestWaitBranchRejectsSecondWaiter(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	noop := func(string) error { return nil }
	require.NoError(t, e.WaitBranch("child", noop))
	require.ErrorIs(t, e.WaitBranch("child", noop), ErrProtocol)
}

func TestHeartbeatResumesWaitingAfterTicksElapsed(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	waiting := interaction.New(&interaction.Waiting{
		Condition:    interaction.Condition{Name: "ticks_elapsed", Params: map[string]any{"ticks": 2}},
		NextTool:     "echo",
		NextToolArgs: map[string]any{"msg": "resumed"},
	})
	require.NoError(t, e.Stack().Append(waiting, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.False(t, e.Steppable(stack.RootBranch))

	resumed, err := e.Heartbeat()
	require.NoError(t, err)
	require.Zero(t, resumed)

	resumed, err = e.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	_, err = e.Drive(context.Background())
	require.NoError(t, err)
	result := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.ToolResult)
	require.Equal(t, map[string]any{"echoed": "resumed"}, result.Content)
}

func TestHeartbeatUnknownConditionIsConfigError(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	waiting := interaction.New(&interaction.Waiting{
		Condition: interaction.Condition{Name: "never_registered"},
		NextTool:  "echo",
	})
	require.NoError(t, e.Stack().Append(waiting, stack.RootBranch))
	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	_, err = e.Heartbeat()
	require.ErrorIs(t, err, ErrConfig)
}

func TestHeartbeatResumesOnSharedState(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	waiting := interaction.New(&interaction.Waiting{
		Condition: interaction.Condition{Name: "state_equals", Params: map[string]any{
			"key": "phase", "value": "ready",
		}},
		NextTool:     "echo",
		NextToolArgs: map[string]any{"msg": "go"},
	})
	require.NoError(t, e.Stack().Append(waiting, stack.RootBranch))
	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	resumed, err := e.Heartbeat()
	require.NoError(t, err)
	require.Zero(t, resumed)

	e.Stack().SharedState().Set("phase", "ready", "")
	resumed, err = e.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 1, resumed)
}

func TestWaitingWithoutDeferredToolIsConfigError(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	waiting := interaction.New(&interaction.Waiting{
		Condition: interaction.Condition{Name: "ticks_elapsed", Params: map[string]any{"ticks": 1}},
	})
	require.NoError(t, e.Stack().Append(waiting, stack.RootBranch))

	err := e.StepBranch(context.Background(), stack.RootBranch)
	require.ErrorIs(t, err, ErrConfig)
}

func TestExternalInputFoldsIntoOracleRequest(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	input := interaction.New(&interaction.ExternalInput{
		Source: "peer",
		Value:  map[string]any{"note": "ping"},
	})
	require.NoError(t, e.Stack().Append(input, stack.RootBranch))
	require.NoError(t, e.StepBranch(context.Background(), stack.RootBranch))

	last := lastOn(t, e.Stack(), stack.RootBranch)
	require.Equal(t, interaction.KindAskOracle, last.Kind())
	ask := last.Payload().(*interaction.AskOracle)
	require.Equal(t, "peer", ask.Inputs["source"])
	require.Equal(t, map[string]any{"note": "ping"}, ask.Inputs["input"])
}

func TestFinishToolSubstitutesTaskResult(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "finish", Args: map[string]any{
		"finish_type": "success",
		"result":      map[string]any{"ok": true},
	}})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	_, err := e.Drive(context.Background())
	require.NoError(t, err)

	require.True(t, e.Stack().IsBranchComplete(stack.RootBranch))
	final := lastOn(t, e.Stack(), stack.RootBranch).Payload().(*interaction.TaskResult)
	require.Equal(t, interaction.FinishSuccess, final.FinishType)
}

func TestRehydrateRestoresChainContinuation(t *testing.T) {
	t.Parallel()

	// Run a chain up to the point where the first link's child branch is
	// suspended at its oracle ask, then snapshot.
	e := testEngine(t, Options{})
	chain := interaction.New(&interaction.TaskChain{
		ChainID: "pipeline",
		Links: []interaction.ChainLink{
			{Template: "greet", Inputs: map[string]any{"name": "Ada"}},
			{Template: "summarize", InputKey: "text"},
		},
	})
	require.NoError(t, e.Stack().Append(chain, stack.RootBranch))
	_, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.Equal(t, interaction.KindAskOracle, lastOn(t, e.Stack(), "root.pipeline.0").Kind())

	restored, err := stack.FromSnapshot(e.Stack().Snapshot(), nil)
	require.NoError(t, err)

	scripted := oracle.NewScripted(
		`{"action": "finish", "finish_type": "success", "result": {"text": "draft"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"summary": "done"}}`,
	)
	registry := tool.NewRegistry()
	builtin.RegisterAll(registry)
	e2, err := New(restored, Options{Tools: registry, Tasks: testTaskSet(t), Oracle: scripted})
	require.NoError(t, err)
	require.NoError(t, e2.Rehydrate(context.Background()))

	_, err = e2.Drive(context.Background())
	require.NoError(t, err)
	require.True(t, restored.IsBranchComplete(stack.RootBranch))
	final := lastOn(t, restored, stack.RootBranch).Payload().(*interaction.TaskResult)
	require.Equal(t, map[string]any{"summary": "done"}, final.Result)
}

func TestRehydrateAdvancesClockPastWaitingOrigin(t *testing.T) {
	t.Parallel()

	// Age the clock before the wait begins so the persisted origin is
	// nonzero.
	e := testEngine(t, Options{})
	for i := 0; i < 3; i++ {
		_, err := e.Heartbeat()
		require.NoError(t, err)
	}

	wait := &interaction.Waiting{
		Condition:    interaction.Condition{Name: "ticks_elapsed", Params: map[string]any{"ticks": 2}},
		NextTool:     "echo",
		NextToolArgs: map[string]any{"msg": "resumed"},
	}
	require.NoError(t, e.Stack().Append(interaction.New(wait), stack.RootBranch))
	_, err := e.Drive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, wait.SinceTick)

	// A fresh engine starts at tick zero; restoring without adjusting the
	// clock would make the elapsed count negative.
	restored, err := stack.FromSnapshot(e.Stack().Snapshot(), nil)
	require.NoError(t, err)
	registry := tool.NewRegistry()
	builtin.RegisterAll(registry)
	e2, err := New(restored, Options{Tools: registry, Tasks: testTaskSet(t)})
	require.NoError(t, err)
	require.Zero(t, e2.Tick())
	require.NoError(t, e2.Rehydrate(context.Background()))
	require.Equal(t, 3, e2.Tick())

	// The declared delta counts from the restored origin, not from zero.
	resumed, err := e2.Heartbeat()
	require.NoError(t, err)
	require.Zero(t, resumed)
	resumed, err = e2.Heartbeat()
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	_, err = e2.Drive(context.Background())
	require.NoError(t, err)
	result := lastOn(t, restored, stack.RootBranch).Payload().(*interaction.ToolResult)
	require.Equal(t, map[string]any{"echoed": "resumed"}, result.Content)
}

func TestDriveHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	e := testEngine(t, Options{})
	call := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "hi"}})
	require.NoError(t, e.Stack().Append(call, stack.RootBranch))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Drive(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}
