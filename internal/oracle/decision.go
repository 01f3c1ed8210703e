package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"

	"github.com/gimlelabs/hugin/internal/interaction"
)

// Action enumerates what a parsed decision asks the engine to do.
type Action string

const (
	// ActionToolCall asks the engine to append and step a tool call.
	ActionToolCall Action = "tool_call"
	// ActionFinish asks the engine to close the task with a result.
	ActionFinish Action = "finish"
)

// Decision is the canonical form of a model's raw output.
type Decision struct {
	Action     Action                 `json:"action"`
	Tool       string                 `json:"tool,omitempty"`
	Args       map[string]any         `json:"args,omitempty"`
	FinishType interaction.FinishType `json:"finish_type,omitempty"`
	Result     map[string]any         `json:"result,omitempty"`
}

// ParseDecision decodes a raw model decision. Malformed JSON gets one
// repair attempt (trailing commas, single quotes) before the decision is
// rejected.
func ParseDecision(raw string) (Decision, error) {
	var decision Decision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return Decision{}, fmt.Errorf("decision is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
			return Decision{}, fmt.Errorf("decision unparseable after repair: %w", err)
		}
	}

	switch decision.Action {
	case ActionToolCall:
		if decision.Tool == "" {
			return Decision{}, fmt.Errorf("tool_call decision missing tool name")
		}
	case ActionFinish:
		if decision.FinishType != interaction.FinishSuccess && decision.FinishType != interaction.FinishFailure {
			return Decision{}, fmt.Errorf("finish decision has invalid finish_type %q", decision.FinishType)
		}
	default:
		return Decision{}, fmt.Errorf("unknown decision action %q", decision.Action)
	}
	return decision, nil
}
