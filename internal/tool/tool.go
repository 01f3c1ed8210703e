// Package tool defines the contract the engine uses to invoke external
// capabilities, plus the registry that resolves tool names.
package tool

import (
	"context"
	"fmt"

	"github.com/gimlelabs/hugin/internal/interaction"
	"github.com/gimlelabs/hugin/internal/stack"
)

// Param declares one argument of a tool.
type Param struct {
	Name        string
	Required    bool
	Description string
}

// Invocation carries everything a tool may observe: the calling stack, the
// branch the call executes on, and the declared arguments.
type Invocation struct {
	Stack  *stack.Stack
	Branch string
	Args   map[string]any
}

// Delegation asks the engine to hand the work to another agent. The result
// returns later as a tool-result continuation.
type Delegation struct {
	Agent    string
	Template string
	Inputs   map[string]any
}

// Result is a tool's outcome. Exactly one of the three shapes applies:
// a plain response (Content, possibly error-flagged), a sub-agent
// delegation, or a substitute interaction that replaces the default
// ToolResult (used by suspension-producing tools such as ask_human).
type Result struct {
	IsError    bool
	Content    map[string]any
	Delegation *Delegation
	Substitute *interaction.Record
}

// Response builds a plain success result.
func Response(content map[string]any) *Result {
	return &Result{Content: content}
}

// Errorf builds an error-flagged result. The message is data for the next
// reasoning step, not a Go error.
func Errorf(format string, args ...any) *Result {
	return &Result{IsError: true, Content: map[string]any{"error": fmt.Sprintf(format, args...)}}
}

// Tool is an executable capability addressed by a stable name.
type Tool interface {
	Name() string
	Description() string
	Params() []Param
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}
