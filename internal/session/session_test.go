package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gimlelabs/hugin/internal/config"
	"github.com/gimlelabs/hugin/internal/engine"
	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/oracle"
	"github.com/gimlelabs/hugin/internal/stack"
	"github.com/gimlelabs/hugin/internal/tool"
	"github.com/gimlelabs/hugin/internal/tool/builtin"
)

func testTasks(t *testing.T) *config.TaskSet {
	t.Helper()
	tasks, err := config.NewTaskSet(&config.Config{
		Tasks: []config.TaskTemplate{
			{
				Name:   "research",
				Prompt: "Find facts about {{input.topic}}.",
				Inputs: []config.InputSpec{{Name: "topic", Required: true}},
			},
		},
	})
	require.NoError(t, err)
	return tasks
}

func testSession(t *testing.T, decisions ...string) *Session {
	t.Helper()
	registry := tool.NewRegistry()
	builtin.RegisterAll(registry)
	opts := Options{
		ID:    "sess-test",
		Tools: registry,
		Tasks: testTasks(t),
	}
	if len(decisions) > 0 {
		opts.Oracle = oracle.NewScripted(decisions...)
	}
	return New(opts)
}

func TestDelegationRoundTrip(t *testing.T) {
	t.Parallel()

	s := testSession(t,
		`{"action": "finish", "finish_type": "success", "result": {"finding": "go is fine"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"report": "done"}}`,
	)
	planner, err := s.AddAgent("planner")
	require.NoError(t, err)

	call := interaction.New(&interaction.ToolCall{Tool: "delegate", Args: map[string]any{
		"agent":    "researcher",
		"template": "research",
		"inputs":   map[string]any{"topic": "go"},
	}})
	require.NoError(t, planner.Stack().Append(call, stack.RootBranch))

	_, err = s.Drive(context.Background())
	require.NoError(t, err)

	// The researcher joined on demand and ran its task branch to a result.
	require.Equal(t, []string{"planner", "researcher"}, s.Agents())
	researcher, ok := s.Engine("researcher")
	require.True(t, ok)
	taskBranch := fmt.Sprintf("task.%s", call.ID())
	require.True(t, researcher.Stack().IsBranchComplete(taskBranch))

	// The result came back through an AgentResult and a tool-result oracle
	// continuation, closing the planner's run.
	require.True(t, planner.Stack().IsBranchComplete(stack.RootBranch))
	last, ok := planner.Stack().Last(stack.RootBranch)
	require.True(t, ok)
	final := last.Payload().(*interaction.TaskResult)
	require.Equal(t, interaction.FinishSuccess, final.FinishType)
	require.Equal(t, map[string]any{"report": "done"}, final.Result)

	scripted := s.opts.Oracle.(*oracle.Scripted)
	requests := scripted.Requests()
	require.Len(t, requests, 2)
	require.Equal(t, interaction.PromptTemplate, requests[0].Kind)
	require.Equal(t, "Find facts about go.", requests[0].Text)
	require.Equal(t, interaction.PromptToolResult, requests[1].Kind)
	require.Equal(t, call.ID(), requests[1].ToolCallID)
	require.Equal(t, map[string]any{"finding": "go is fine"}, requests[1].Inputs["result"])
}

func TestDelegationSurvivesEagerTargetAgent(t *testing.T) {
	t.Parallel()

	// When the target agent already exists it may be driving concurrently
	// and can run the whole task branch the instant the definition lands,
	// before Delegate returns. Reproduce that interleaving by driving the
	// researcher from a stack listener, synchronously inside the append.
	s := testSession(t,
		`{"action": "finish", "finish_type": "success", "result": {"finding": "go is fine"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"report": "done"}}`,
	)
	planner, err := s.AddAgent("planner")
	require.NoError(t, err)
	researcher, err := s.AddAgent("researcher")
	require.NoError(t, err)

	var eagerErr error
	researcher.Stack().AddListener(func(rec *interaction.Record) {
		if rec.Kind() != interaction.KindTaskDefinition {
			return
		}
		_, eagerErr = researcher.Drive(context.Background())
	})

	call := interaction.New(&interaction.ToolCall{Tool: "delegate", Args: map[string]any{
		"agent":    "researcher",
		"template": "research",
		"inputs":   map[string]any{"topic": "go"},
	}})
	require.NoError(t, planner.Stack().Append(call, stack.RootBranch))

	_, err = planner.Drive(context.Background())
	require.NoError(t, err)
	require.NoError(t, eagerErr)

	// The researcher finished its task branch inside the delegation call;
	// the continuation must still reach the planner.
	taskBranch := fmt.Sprintf("task.%s", call.ID())
	require.True(t, researcher.Stack().IsBranchComplete(taskBranch))
	require.True(t, planner.Stack().IsBranchComplete(stack.RootBranch))
	last, ok := planner.Stack().Last(stack.RootBranch)
	require.True(t, ok)
	final := last.Payload().(*interaction.TaskResult)
	require.Equal(t, map[string]any{"report": "done"}, final.Result)
}

func TestFindResolvesAcrossAgents(t *testing.T) {
	t.Parallel()

	s := testSession(t)
	a, err := s.AddAgent("a")
	require.NoError(t, err)
	b, err := s.AddAgent("b")
	require.NoError(t, err)

	onA := interaction.New(&interaction.ToolCall{Tool: "echo", Args: map[string]any{"msg": "x"}})
	require.NoError(t, a.Stack().Append(onA, stack.RootBranch))
	onB := interaction.New(&interaction.TaskResult{FinishType: interaction.FinishSuccess})
	require.NoError(t, b.Stack().Append(onB, stack.RootBranch))

	found, ok := s.Find(onB.ID())
	require.True(t, ok)
	require.Equal(t, onB.ID(), found.ID())
	_, ok = s.Find("in_absent")
	require.False(t, ok)
}

func TestAddAgentIsIdempotent(t *testing.T) {
	t.Parallel()

	s := testSession(t)
	first, err := s.AddAgent("worker")
	require.NoError(t, err)
	second, err := s.AddAgent("worker")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, []string{"worker"}, s.Agents())

	_, err = s.AddAgent("")
	require.ErrorIs(t, err, engine.ErrConfig)
}

func TestHeartbeatDrivesResumedBranches(t *testing.T) {
	t.Parallel()

	s := testSession(t)
	worker, err := s.AddAgent("worker")
	require.NoError(t, err)

	waiting := interaction.New(&interaction.Waiting{
		Condition:    interaction.Condition{Name: "ticks_elapsed", Params: map[string]any{"ticks": 1}},
		NextTool:     "echo",
		NextToolArgs: map[string]any{"msg": "later"},
	})
	require.NoError(t, worker.Stack().Append(waiting, stack.RootBranch))
	_, err = s.Drive(context.Background())
	require.NoError(t, err)

	resumed, err := s.Heartbeat(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, resumed)

	last, ok := worker.Stack().Last(stack.RootBranch)
	require.True(t, ok)
	result := last.Payload().(*interaction.ToolResult)
	require.Equal(t, map[string]any{"echoed": "later"}, result.Content)
}

func TestRehydrateRestoresDelegationWaiter(t *testing.T) {
	t.Parallel()

	// No oracle: the delegation parks with the researcher suspended at its
	// oracle ask. Snapshot both stacks at that point.
	cold := testSession(t)
	planner, err := cold.AddAgent("planner")
	require.NoError(t, err)
	call := interaction.New(&interaction.ToolCall{Tool: "delegate", Args: map[string]any{
		"agent":    "researcher",
		"template": "research",
		"inputs":   map[string]any{"topic": "go"},
	}})
	require.NoError(t, planner.Stack().Append(call, stack.RootBranch))
	_, err = cold.Drive(context.Background())
	require.NoError(t, err)
	snapshots := cold.Snapshots()
	require.Len(t, snapshots, 2)

	warm := testSession(t,
		`{"action": "finish", "finish_type": "success", "result": {"finding": "ok"}}`,
		`{"action": "finish", "finish_type": "success", "result": {"report": "done"}}`,
	)
	for _, snap := range snapshots {
		restored, err := stack.FromSnapshot(snap, nil)
		require.NoError(t, err)
		_, err = warm.AdoptStack(restored)
		require.NoError(t, err)
	}
	require.NoError(t, warm.Rehydrate(context.Background()))

	_, err = warm.Drive(context.Background())
	require.NoError(t, err)

	restoredPlanner, ok := warm.Engine("planner")
	require.True(t, ok)
	require.True(t, restoredPlanner.Stack().IsBranchComplete(stack.RootBranch))
	last, _ := restoredPlanner.Stack().Last(stack.RootBranch)
	final := last.Payload().(*interaction.TaskResult)
	require.Equal(t, map[string]any{"report": "done"}, final.Result)
}
