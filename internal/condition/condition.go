// Package condition evaluates the named predicates that gate resumption of
// waiting interactions.
package condition

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/spf13/cast"

	"github.com/gimlelabs/hugin/internal/stack"
)

// ErrUnknown is returned when a condition name has no registered predicate.
// Referencing an unknown condition is a configuration error.
var ErrUnknown = errors.New("unknown condition")

// Env is what a predicate may observe: the scheduler's heartbeat counter,
// the tick the waiting interaction was stepped at, and the owning stack.
type Env struct {
	Tick   int
	Origin int
	Stack  *stack.Stack
}

// Func is a named predicate. Parameters come from the waiting interaction's
// condition spec; a parameter error is a configuration error.
type Func func(env Env, params map[string]any) (bool, error)

// Registry maps condition names to predicates. Construct once, inject where
// needed; there is no ambient global registry.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry pre-loaded with the builtin conditions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.funcs["ticks_elapsed"] = ticksElapsed
	r.funcs["state_equals"] = stateEquals
	r.funcs["branch_complete"] = branchComplete
	return r
}

// Register adds a predicate under the given name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("condition registration requires a name and a predicate")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("condition already registered: %s", name)
	}
	r.funcs[name] = fn
	return nil
}

// Eval evaluates the named condition against the environment.
func (r *Registry) Eval(name string, env Env, params map[string]any) (bool, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return fn(env, params)
}

func ticksElapsed(env Env, params map[string]any) (bool, error) {
	raw, ok := params["ticks"]
	if !ok {
		return false, fmt.Errorf("ticks_elapsed: missing %q parameter", "ticks")
	}
	ticks, err := cast.ToIntE(raw)
	if err != nil {
		return false, fmt.Errorf("ticks_elapsed: %w", err)
	}
	if ticks < 0 {
		return false, fmt.Errorf("ticks_elapsed: negative tick count %d", ticks)
	}
	return env.Tick-env.Origin >= ticks, nil
}

func stateEquals(env Env, params map[string]any) (bool, error) {
	key, err := cast.ToStringE(params["key"])
	if err != nil || key == "" {
		return false, fmt.Errorf("state_equals: missing %q parameter", "key")
	}
	namespace := cast.ToString(params["namespace"])
	want, ok := params["value"]
	if !ok {
		return false, fmt.Errorf("state_equals: missing %q parameter", "value")
	}
	got := env.Stack.SharedState().Get(key, namespace, nil)
	return reflect.DeepEqual(got, want), nil
}

func branchComplete(env Env, params map[string]any) (bool, error) {
	branch, err := cast.ToStringE(params["branch"])
	if err != nil || branch == "" {
		return false, fmt.Errorf("branch_complete: missing %q parameter", "branch")
	}
	return env.Stack.IsBranchComplete(branch), nil
}
