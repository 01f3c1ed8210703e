package interaction

// ToolCall requests execution of a named tool with declared arguments.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

func (*ToolCall) Kind() Kind { return KindToolCall }

// ToolResult carries a tool's response. IsError marks execution or
// resolution failures that the next reasoning step sees as data.
type ToolResult struct {
	CallID  string         `json:"call_id,omitempty"`
	IsError bool           `json:"is_error"`
	Content map[string]any `json:"content,omitempty"`
}

func (*ToolResult) Kind() Kind { return KindToolResult }

// AgentCall delegates a task template to another agent. CallID references
// the tool call that produced the delegation so the eventual result can be
// fed back as a tool-result continuation.
type AgentCall struct {
	Agent    string         `json:"agent"`
	Template string         `json:"template"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	CallID   string         `json:"call_id,omitempty"`
}

func (*AgentCall) Kind() Kind { return KindAgentCall }

// AgentResult reconciles a child agent's task result back into the parent
// branch. ResultID must reference a TaskResult record.
type AgentResult struct {
	Agent    string `json:"agent,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	ResultID string `json:"result_id"`
}

func (*AgentResult) Kind() Kind { return KindAgentResult }

// TaskDefinition binds a task template's inputs and names the branch the
// materialized sub-run executes on. An empty target keeps the current branch.
type TaskDefinition struct {
	Template     string         `json:"template"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	TargetBranch string         `json:"target_branch,omitempty"`
}

func (*TaskDefinition) Kind() Kind { return KindTaskDefinition }

// FinishType classifies how a task ended.
type FinishType string

const (
	FinishSuccess FinishType = "success"
	FinishFailure FinishType = "failure"
)

// TaskResult terminates a task. A branch whose last interaction is a
// TaskResult is complete.
type TaskResult struct {
	FinishType FinishType     `json:"finish_type"`
	Result     map[string]any `json:"result,omitempty"`
}

func (*TaskResult) Kind() Kind { return KindTaskResult }

// ChainLink is one entry of a TaskChain: a task template plus static inputs
// and the input name the prior link's result payload binds to.
type ChainLink struct {
	Template string         `json:"template"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	InputKey string         `json:"input_key,omitempty"`
}

// TaskChain sequences task definitions, piping each result payload into the
// next link's inputs. Every advance appends a fresh continuation record
// carrying the incremented index, so each record still steps exactly once.
type TaskChain struct {
	ChainID string         `json:"chain_id"`
	Links   []ChainLink    `json:"links"`
	Index   int            `json:"index"`
	Prior   map[string]any `json:"prior,omitempty"`
}

func (*TaskChain) Kind() Kind { return KindTaskChain }

// AskHuman suspends the branch until a human response is appended.
type AskHuman struct {
	Question         string `json:"question"`
	ResponseTemplate string `json:"response_template,omitempty"`
}

func (*AskHuman) Kind() Kind { return KindAskHuman }

// HumanResponse resumes a branch suspended at an AskHuman.
type HumanResponse struct {
	Response string `json:"response"`
}

func (*HumanResponse) Kind() Kind { return KindHumanResponse }

// PromptKind classifies what an oracle request is built from.
type PromptKind string

const (
	PromptToolResult PromptKind = "tool_result"
	PromptText       PromptKind = "text"
	PromptTemplate   PromptKind = "template"
)

// AskOracle suspends the branch around the one external call that invokes
// the language model.
type AskOracle struct {
	PromptKind PromptKind     `json:"prompt_kind"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	Template   string         `json:"template,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
}

func (*AskOracle) Kind() Kind { return KindAskOracle }

// OracleResponse carries the model's raw decision; stepping parses it into
// the next tool call or a terminal task result.
type OracleResponse struct {
	Raw string `json:"raw"`
}

func (*OracleResponse) Kind() Kind { return KindOracleResponse }

// ExternalInput is a value injected from outside the engine, folded into an
// oracle request when stepped.
type ExternalInput struct {
	Source string         `json:"source,omitempty"`
	Value  map[string]any `json:"value,omitempty"`
}

func (*ExternalInput) Kind() Kind { return KindExternalInput }

// Condition names a scheduler predicate with parameters.
type Condition struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Waiting suspends the branch until the scheduler finds the condition
// satisfied on a heartbeat, then the deferred tool call is synthesized.
// SinceTick is filled by the stepping protocol when the record is stepped.
type Waiting struct {
	Condition    Condition      `json:"condition"`
	NextTool     string         `json:"next_tool"`
	NextToolArgs map[string]any `json:"next_tool_args,omitempty"`
	SinceTick    int            `json:"since_tick,omitempty"`
}

func (*Waiting) Kind() Kind { return KindWaiting }
