package builtin

import (
	"context"

	"github.com/spf13/cast"

	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/tool"
)

// Finish terminates the current task by substituting a TaskResult for the
// default tool result.
type Finish struct{}

// NewFinish creates the finish tool.
func NewFinish() *Finish { return &Finish{} }

func (*Finish) Name() string { return "finish" }

func (*Finish) Description() string {
	return "Closes the current task with a success or failure result."
}

func (*Finish) Params() []tool.Param {
	return []tool.Param{
		{Name: "finish_type", Required: true, Description: "success or failure."},
		{Name: "result", Description: "Opaque result payload."},
	}
}

func (*Finish) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	finishType := interaction.FinishType(cast.ToString(inv.Args["finish_type"]))
	if finishType != interaction.FinishSuccess && finishType != interaction.FinishFailure {
		return tool.Errorf("finish: finish_type must be success or failure, got %q", finishType), nil
	}
	result, _ := inv.Args["result"].(map[string]any)
	return &tool.Result{
		Substitute: interaction.New(&interaction.TaskResult{FinishType: finishType, Result: result}),
	}, nil
}

// AskHuman suspends the branch with a question by substituting an AskHuman
// interaction for the default tool result.
type AskHuman struct{}

// NewAskHuman creates the ask_human tool.
func NewAskHuman() *AskHuman { return &AskHuman{} }

func (*AskHuman) Name() string { return "ask_human" }

func (*AskHuman) Description() string {
	return "Suspends the branch until a human response is appended."
}

func (*AskHuman) Params() []tool.Param {
	return []tool.Param{
		{Name: "question", Required: true, Description: "Question shown to the human."},
		{Name: "response_template", Description: "Prompt template applied to the answer."},
	}
}

func (*AskHuman) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	question := cast.ToString(inv.Args["question"])
	if question == "" {
		return tool.Errorf("ask_human: empty question"), nil
	}
	return &tool.Result{
		Substitute: interaction.New(&interaction.AskHuman{
			Question:         question,
			ResponseTemplate: cast.ToString(inv.Args["response_template"]),
		}),
	}, nil
}

// Wait suspends the branch on a named condition and defers a follow-up tool
// call until the scheduler finds the condition satisfied.
type Wait struct{}

// NewWait creates the wait tool.
func NewWait() *Wait { return &Wait{} }

func (*Wait) Name() string { return "wait" }

func (*Wait) Description() string {
	return "Suspends the branch until a condition holds, then runs the deferred tool."
}

func (*Wait) Params() []tool.Param {
	return []tool.Param{
		{Name: "condition", Required: true, Description: "Condition name."},
		{Name: "params", Description: "Condition parameters."},
		{Name: "next_tool", Required: true, Description: "Tool invoked once the condition holds."},
		{Name: "next_tool_args", Description: "Arguments for the deferred tool."},
	}
}

func (*Wait) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	name := cast.ToString(inv.Args["condition"])
	nextTool := cast.ToString(inv.Args["next_tool"])
	if name == "" || nextTool == "" {
		return tool.Errorf("wait: condition and next_tool are required"), nil
	}
	params, _ := inv.Args["params"].(map[string]any)
	nextArgs, _ := inv.Args["next_tool_args"].(map[string]any)
	return &tool.Result{
		Substitute: interaction.New(&interaction.Waiting{
			Condition:    interaction.Condition{Name: name, Params: params},
			NextTool:     nextTool,
			NextToolArgs: nextArgs,
		}),
	}, nil
}

// Delegate hands a task template to another agent.
type Delegate struct{}

// NewDelegate creates the delegate tool.
func NewDelegate() *Delegate { return &Delegate{} }

func (*Delegate) Name() string { return "delegate" }

func (*Delegate) Description() string {
	return "Delegates a task template to another agent and waits for its result."
}

func (*Delegate) Params() []tool.Param {
	return []tool.Param{
		{Name: "agent", Required: true, Description: "Target agent name."},
		{Name: "template", Required: true, Description: "Task template to run."},
		{Name: "inputs", Description: "Bound task inputs."},
	}
}

func (*Delegate) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	agent := cast.ToString(inv.Args["agent"])
	template := cast.ToString(inv.Args["template"])
	if agent == "" || template == "" {
		return tool.Errorf("delegate: agent and template are required"), nil
	}
	inputs, _ := inv.Args["inputs"].(map[string]any)
	return &tool.Result{
		Delegation: &tool.Delegation{Agent: agent, Template: template, Inputs: inputs},
	}, nil
}
