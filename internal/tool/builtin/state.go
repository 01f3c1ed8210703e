package builtin

import (
	"context"

	"github.com/spf13/cast"

	"github.com/gimlelabs/hugin/internal/tool"
)

// GetState reads a value from the calling stack's shared-state store.
type GetState struct{}

// NewGetState creates the get_state tool.
func NewGetState() *GetState { return &GetState{} }

func (*GetState) Name() string { return "get_state" }

func (*GetState) Description() string {
	return "Reads a shared-state value visible to every branch of this agent."
}

func (*GetState) Params() []tool.Param {
	return []tool.Param{
		{Name: "key", Required: true, Description: "State key."},
		{Name: "namespace", Description: "Namespace, defaults to the global scope."},
		{Name: "default", Description: "Value returned when the key is unset."},
	}
}

func (*GetState) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	key := cast.ToString(inv.Args["key"])
	if key == "" {
		return tool.Errorf("get_state: empty key"), nil
	}
	namespace := cast.ToString(inv.Args["namespace"])
	value := inv.Stack.SharedState().Get(key, namespace, inv.Args["default"])
	return tool.Response(map[string]any{"key": key, "value": value}), nil
}

// SetState writes a value into the calling stack's shared-state store.
type SetState struct{}

// NewSetState creates the set_state tool.
func NewSetState() *SetState { return &SetState{} }

func (*SetState) Name() string { return "set_state" }

func (*SetState) Description() string {
	return "Writes a shared-state value, immediately visible to subsequent reads."
}

func (*SetState) Params() []tool.Param {
	return []tool.Param{
		{Name: "key", Required: true, Description: "State key."},
		{Name: "value", Required: true, Description: "Value to store."},
		{Name: "namespace", Description: "Namespace, defaults to the global scope."},
	}
}

func (*SetState) Execute(_ context.Context, inv tool.Invocation) (*tool.Result, error) {
	key := cast.ToString(inv.Args["key"])
	if key == "" {
		return tool.Errorf("set_state: empty key"), nil
	}
	namespace := cast.ToString(inv.Args["namespace"])
	inv.Stack.SharedState().Set(key, inv.Args["value"], namespace)
	return tool.Response(map[string]any{"key": key, "stored": true}), nil
}
