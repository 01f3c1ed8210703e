package engine

import "errors"

var (
	// ErrConfig marks configuration errors: malformed task or tool
	// references, missing required fields. They fail fast, abort the
	// triggering step, and are surfaced to the operator.
	ErrConfig = errors.New("configuration error")

	// ErrProtocol marks structural violations of the stepping protocol:
	// a response appended without its matching ask, a task-result
	// reference that resolves to nothing or to the wrong variant. Fatal
	// to the branch's current step, never silently ignored.
	ErrProtocol = errors.New("protocol violation")
)
